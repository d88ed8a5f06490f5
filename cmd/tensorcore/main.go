package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-tensorcore/internal/config"
	"github.com/23skdu/longbow-tensorcore/internal/core"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/interop"
	"github.com/23skdu/longbow-tensorcore/internal/registry"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

// app carries the state shared by every subcommand.
type app struct {
	cfg      config.Config
	core     *core.Context
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}

	root := &cobra.Command{
		Use:           "tensorcore",
		Short:         "Inspect and exercise the tensor storage and type registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.shutdown != nil {
				return a.shutdown(context.Background())
			}
			return nil
		},
	}
	a.cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		a.typesCmd(),
		a.resolveCmd(),
		a.allocCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) setup() error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	level, err := a.cfg.Level()
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	if a.cfg.OTel {
		shutdown, err := initTracer()
		if err != nil {
			return errors.Wrap(err, "initialize tracer")
		}
		a.shutdown = shutdown
	}

	c, err := core.NewContext(a.cfg)
	if err != nil {
		return err
	}
	a.core = c
	return nil
}

func (a *app) typesCmd() *cobra.Command {
	var format, backend string
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List registered tensor types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos := typeInfos(a.core.Registry.Descriptors(), backend)
			return writeTypes(cmd.OutOrStdout(), format, infos)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json, cbor)")
	cmd.Flags().StringVar(&backend, "backend", "", "Only list types of this backend")
	return cmd
}

// TypeInfo is the wire form of one registered type.
type TypeInfo struct {
	Name        string `json:"name" cbor:"name"`
	StorageName string `json:"storage" cbor:"storage"`
	Backend     string `json:"backend" cbor:"backend"`
	Kind        string `json:"kind" cbor:"kind"`
	Size        int    `json:"size" cbor:"size"`
}

func typeInfos(descs []registry.Descriptor, backend string) []TypeInfo {
	out := make([]TypeInfo, 0, len(descs))
	for _, d := range descs {
		if backend != "" && d.Backend != backend {
			continue
		}
		out = append(out, TypeInfo{
			Name:        d.Name(),
			StorageName: d.StorageName(),
			Backend:     d.Backend,
			Kind:        d.Kind.String(),
			Size:        d.Kind.Size(),
		})
	}
	return out
}

func writeTypes(w io.Writer, format string, infos []TypeInfo) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	case "cbor":
		return cbor.NewEncoder(w).Encode(infos)
	case "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSTORAGE\tKIND\tBYTES")
		for _, info := range infos {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", info.Name, info.StorageName, info.Kind, info.Size)
		}
		return tw.Flush()
	default:
		return errors.Errorf("unknown format %q", format)
	}
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve NAME",
		Short: "Resolve a type name such as cpu.FloatTensor or torch.DoubleStorage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.core.Registry.ResolveByName(args[0])
			if err != nil {
				return err
			}
			infos := typeInfos([]registry.Descriptor{d}, "")
			return writeTypes(cmd.OutOrStdout(), "text", infos)
		},
	}
}

func (a *app) allocCmd() *cobra.Command {
	var (
		shape    []int
		kind     string
		backend  string
		arrowIPC bool
	)
	cmd := &cobra.Command{
		Use:   "alloc",
		Short: "Allocate a zeroed tensor and describe it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := tensorOptions(kind, backend)
			if err != nil {
				return err
			}
			v, err := a.core.Empty(cmd.Context(), tensor.Shape(shape), opts...)
			if err != nil {
				return err
			}
			defer v.Release()

			if arrowIPC {
				rb, err := interop.ToRecordBatch(v, "tensor", interop.AllocatorFor(v.Storage().Device()))
				if err != nil {
					return err
				}
				defer rb.Release()
				return writeArrowStream(cmd.OutOrStdout(), rb)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "type:    %s\n", core.TypeName(v))
			fmt.Fprintf(out, "storage: %s (%s)\n", core.TypeName(v.Storage()), v.Storage().ID())
			fmt.Fprintf(out, "shape:   %v\n", v.Shape())
			fmt.Fprintf(out, "stride:  %v\n", v.Stride())
			fmt.Fprintf(out, "bytes:   %d\n", v.Storage().ByteLen())
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&shape, "shape", []int{}, "Extents, e.g. --shape 2,3")
	cmd.Flags().StringVar(&kind, "dtype", "", "Element kind (default: the default dtype)")
	cmd.Flags().StringVar(&backend, "backend", "", "Backend (default: the default tensor type's)")
	cmd.Flags().BoolVar(&arrowIPC, "arrow", false, "Write the tensor as an Arrow IPC stream to stdout")
	return cmd
}

func tensorOptions(kind, backend string) ([]core.Option, error) {
	var opts []core.Option
	if kind != "" {
		k, err := dtype.Parse(kind)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithKind(k))
	}
	if backend = strings.TrimSpace(backend); backend != "" {
		opts = append(opts, core.WithBackend(backend))
	}
	return opts, nil
}

func writeArrowStream(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve type, defaults and metrics endpoints over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return startServer(cmd.Context(), a.cfg.ListenAddr, a.core)
		},
	}
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("tensorcore"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
