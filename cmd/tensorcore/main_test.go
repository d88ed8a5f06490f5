package main

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestTypesCommand(t *testing.T) {
	out, err := run(t, "types", "--backend", "cpu")
	require.NoError(t, err)
	assert.Contains(t, out, "cpu.FloatTensor")
	assert.Contains(t, out, "cpu.QInt32Storage")
	assert.NotContains(t, out, "arrow.")

	out, err = run(t, "types", "--format", "json")
	require.NoError(t, err)
	var infos []TypeInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	assert.NotEmpty(t, infos)

	_, err = run(t, "types", "--format", "yaml")
	assert.Error(t, err)
}

func TestResolveCommand(t *testing.T) {
	out, err := run(t, "resolve", "torch.DoubleStorage")
	require.NoError(t, err)
	assert.Contains(t, out, "cpu.DoubleTensor")
	assert.Contains(t, out, "float64")

	_, err = run(t, "resolve", "cpu.Tensor")
	assert.Error(t, err)
}

func TestAllocCommand(t *testing.T) {
	out, err := run(t, "alloc", "--shape", "2,3", "--default-dtype", "float64")
	require.NoError(t, err)
	assert.Contains(t, out, "cpu.DoubleTensor")
	assert.Contains(t, out, "bytes:   48")

	out, err = run(t, "alloc", "--shape", "2,2", "--arrow")
	require.NoError(t, err)
	reader, err := ipc.NewReader(bytes.NewReader([]byte(out)), ipc.WithAllocator(memory.NewGoAllocator()))
	require.NoError(t, err)
	defer reader.Release()
	require.True(t, reader.Next())
	assert.Equal(t, int64(2), reader.Record().NumRows())

	_, err = run(t, "alloc", "--shape", "1", "--dtype", "qint8", "--backend", "arrow")
	assert.Error(t, err)
}
