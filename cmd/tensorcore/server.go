package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/23skdu/longbow-tensorcore/internal/core"
	"github.com/23skdu/longbow-tensorcore/internal/defaults"
	"github.com/23skdu/longbow-tensorcore/internal/device"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/errdefs"
	"github.com/23skdu/longbow-tensorcore/internal/registry"
	"github.com/23skdu/longbow-tensorcore/internal/storage"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

const cborContentType = "application/cbor"

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tensorcore_request_duration_seconds",
		Help:    "Time spent serving HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	defaultChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tensorcore_default_changes_total",
		Help: "Total number of accepted default type changes",
	})
)

type TypeLister interface {
	Descriptors() []registry.Descriptor
	Frozen() bool
}

type DefaultsStore interface {
	Snapshot() defaults.Snapshot
	SetDefaultElementKind(k dtype.Kind) error
	SetDefaultTensorTypeByName(name string) error
}

type TensorMaker interface {
	Empty(ctx context.Context, shape tensor.Shape, opts ...core.Option) (*tensor.View, error)
}

type Server struct {
	types    TypeLister
	defaults DefaultsStore
	tensors  TensorMaker
	backends map[string]device.Backend
}

func NewServer(c *core.Context) *Server {
	return &Server{
		types:    c.Registry,
		defaults: c.Defaults,
		tensors:  c,
		backends: c.Backends,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/types", s.timed("types", s.handleTypes))
	mux.HandleFunc("/defaults", s.timed("defaults", s.handleDefaults))
	mux.HandleFunc("/alloc", s.timed("alloc", s.handleAlloc))
	return mux
}

func startServer(ctx context.Context, addr string, c *core.Context) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewServer(c).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Starting tensorcore server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var tracer = otel.Tracer("tensorcore-server")

func (s *Server) timed(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			requestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}()
		h(w, r)
	}
}

func wantsCBOR(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), cborContentType)
}

// writeBody encodes v as CBOR when the client asks for it, JSON otherwise.
func writeBody(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsCBOR(r) {
		data, err := cbor.Marshal(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", cborContentType)
		w.WriteHeader(status)
		_, _ = w.Write(data)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a CBOR or JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), cborContentType) {
		return cbor.NewDecoder(r.Body).Decode(v)
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errdefs.ErrUnknownType),
		errors.Is(err, errdefs.ErrMalformedTypeName):
		return http.StatusNotFound
	case errors.Is(err, errdefs.ErrUnsupportedDefaultKind),
		errors.Is(err, errdefs.ErrShapeStrideMismatch):
		return http.StatusBadRequest
	case errors.Is(err, errdefs.ErrAllocationFailure):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeBody(w, r, http.StatusOK, typeInfos(s.types.Descriptors(), r.URL.Query().Get("backend")))
}

// DefaultsRequest changes the defaults. Exactly one field must be set.
type DefaultsRequest struct {
	TensorType  string `json:"tensor_type,omitempty" cbor:"tensor_type,omitempty"`
	ElementKind string `json:"element_kind,omitempty" cbor:"element_kind,omitempty"`
}

type defaultsResponse struct {
	ElementKind string `json:"element_kind" cbor:"element_kind"`
	TensorType  string `json:"tensor_type" cbor:"tensor_type"`
}

func (s *Server) snapshot() defaultsResponse {
	snap := s.defaults.Snapshot()
	return defaultsResponse{ElementKind: snap.ElementKind.String(), TensorType: snap.TypeName}
}

func (s *Server) handleDefaults(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "handleDefaults")
	defer span.End()

	switch r.Method {
	case http.MethodGet:
		writeBody(w, r, http.StatusOK, s.snapshot())
	case http.MethodPut:
		var req DefaultsRequest
		if err := decodeBody(r, &req); err != nil {
			span.RecordError(err)
			http.Error(w, fmt.Sprintf("Bad Request (decode): %v", err), http.StatusBadRequest)
			return
		}
		span.SetAttributes(
			attribute.String("tensor_type", req.TensorType),
			attribute.String("element_kind", req.ElementKind),
		)

		var err error
		switch {
		case req.TensorType != "" && req.ElementKind != "":
			http.Error(w, "Bad Request: set tensor_type or element_kind, not both", http.StatusBadRequest)
			return
		case req.TensorType != "":
			err = s.defaults.SetDefaultTensorTypeByName(req.TensorType)
		case req.ElementKind != "":
			k, perr := dtype.Parse(req.ElementKind)
			if perr != nil {
				err = &errdefs.TypeError{Err: errdefs.ErrUnsupportedDefaultKind, Kind: req.ElementKind}
			} else {
				err = s.defaults.SetDefaultElementKind(k)
			}
		default:
			http.Error(w, "Bad Request: empty defaults request", http.StatusBadRequest)
			return
		}
		if err != nil {
			span.RecordError(err)
			log.Warn().Err(err).Msg("Rejected defaults change")
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		defaultChanges.Inc()
		writeBody(w, r, http.StatusOK, s.snapshot())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// AllocRequest asks for a zeroed tensor; empty fields use the defaults.
type AllocRequest struct {
	Shape   []int  `json:"shape" cbor:"shape"`
	DType   string `json:"dtype,omitempty" cbor:"dtype,omitempty"`
	Backend string `json:"backend,omitempty" cbor:"backend,omitempty"`
}

type allocResponse struct {
	Type    string         `json:"type" cbor:"type"`
	Shape   []int          `json:"shape" cbor:"shape"`
	Stride  []int          `json:"stride" cbor:"stride"`
	Storage storage.Header `json:"storage" cbor:"storage"`
}

// handleAlloc allocates and immediately releases a tensor, reporting what the
// dtype-optional construction path resolved to.
func (s *Server) handleAlloc(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleAlloc")
	defer span.End()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req AllocRequest
	if err := decodeBody(r, &req); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (decode): %v", err), http.StatusBadRequest)
		return
	}
	opts, err := tensorOptions(req.DType, req.Backend)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	v, err := s.tensors.Empty(ctx, tensor.Shape(req.Shape), opts...)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	defer v.Release()

	span.SetAttributes(attribute.String("type", core.TypeName(v)))
	writeBody(w, r, http.StatusOK, allocResponse{
		Type:    core.TypeName(v),
		Shape:   v.Shape(),
		Stride:  v.Stride(),
		Storage: v.Storage().Header(),
	})
}

// BackendHealth reports one backend's byte accounting. Budget is 0 when the
// backend is unlimited.
type BackendHealth struct {
	Name   string `json:"name" cbor:"name"`
	Live   int64  `json:"live_bytes" cbor:"live_bytes"`
	Peak   int64  `json:"peak_bytes" cbor:"peak_bytes"`
	Budget int64  `json:"budget_bytes" cbor:"budget_bytes"`
}

type HealthResponse struct {
	Status   string          `json:"status" cbor:"status"`
	Frozen   bool            `json:"registry_frozen" cbor:"registry_frozen"`
	Backends []BackendHealth `json:"backends" cbor:"backends"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "OK", Frozen: s.types.Frozen()}
	for _, name := range slices.Sorted(maps.Keys(s.backends)) {
		b := s.backends[name]
		u := b.Usage()
		h := BackendHealth{Name: name, Live: u.Live, Peak: u.Peak}
		if l, ok := b.(*device.Limited); ok {
			h.Budget = l.Budget()
		}
		resp.Backends = append(resp.Backends, h)
	}
	writeBody(w, r, http.StatusOK, resp)
}
