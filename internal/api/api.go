// Package api exposes the RSA service over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/signalsfoundry/flexgrid-rsa/internal/logging"
	"github.com/signalsfoundry/flexgrid-rsa/internal/observability"
	"github.com/signalsfoundry/flexgrid-rsa/internal/report"
	"github.com/signalsfoundry/flexgrid-rsa/internal/rsa"
	"github.com/signalsfoundry/flexgrid-rsa/internal/store"
	"github.com/signalsfoundry/flexgrid-rsa/model"
	"github.com/signalsfoundry/flexgrid-rsa/spectrum"
	"github.com/signalsfoundry/flexgrid-rsa/topology"
)

// API holds the HTTP handler dependencies.
type API struct {
	svc     *rsa.Service
	log     logging.Logger
	metrics *observability.RSACollector
}

// New returns the API over svc. metrics may be nil.
func New(svc *rsa.Service, log logging.Logger, metrics *observability.RSACollector) *API {
	return &API{svc: svc, log: logging.OrNoop(log), metrics: metrics}
}

// Router builds the chi router with every route mounted.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(a.requestContext)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.With(a.metrics.Middleware("healthz")).Get("/healthz", a.health)
	r.Route("/api/v1", func(r chi.Router) {
		r.With(a.metrics.Middleware("devices")).Get("/devices", a.listDevices)
		r.With(a.metrics.Middleware("links")).Get("/links", a.listLinks)
		r.With(a.metrics.Middleware("paths")).Post("/paths", a.findPaths)
		r.With(a.metrics.Middleware("allocations")).Post("/allocations", a.allocate)
		r.With(a.metrics.Middleware("commits")).Post("/commits", a.commit)
		r.With(a.metrics.Middleware("report")).Get("/report.xlsx", a.report)
	})
	return r
}

// requestContext attaches a request ID and a request-scoped logger. An
// incoming X-Request-Id header is reused.
func (a *API) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(middleware.RequestIDHeader); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, id := logging.EnsureRequestID(ctx)
		reqLog := a.log.With(
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		)
		ctx = logging.ContextWithLogger(ctx, reqLog)
		w.Header().Set(middleware.RequestIDHeader, id)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		reqLog.Debug(ctx, "request served",
			logging.Int("status", ww.Status()),
			logging.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.svc.Devices(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (a *API) listLinks(w http.ResponseWriter, r *http.Request) {
	links, err := a.svc.Links(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (a *API) findPaths(w http.ResponseWriter, r *http.Request) {
	var req rsa.FindPathsRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.svc.FindPaths(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type allocateRequest struct {
	LinkIDs       []string `json:"link_ids"`
	BandwidthGbps float64  `json:"bandwidth_gbps"`
}

func (a *API) allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.svc.AllocateLinks(r.Context(), req.LinkIDs, req.BandwidthGbps)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) commit(w http.ResponseWriter, r *http.Request) {
	var req rsa.CommitRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.svc.Commit(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) report(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Inventory(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := report.Write(&buf, snap); err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="spectrum-report.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload: "+err.Error())
		return false
	}
	return true
}

// fail maps service errors onto HTTP status codes.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	log := logging.FromContext(r.Context(), a.log)
	if code >= http.StatusInternalServerError {
		log.Error(r.Context(), "request failed", logging.Err(err))
		writeError(w, code, "internal error")
		return
	}
	log.Info(r.Context(), "request rejected", logging.Int("status", code), logging.Err(err))
	writeError(w, code, err.Error())
}

// StatusFor returns the HTTP status for an error returned by the service.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrExists):
		return http.StatusConflict
	case errors.Is(err, topology.ErrUnknownDevice),
		errors.Is(err, topology.ErrUnknownPort),
		errors.Is(err, topology.ErrUnknownLink),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rsa.ErrInvalidRequest),
		errors.Is(err, topology.ErrBrokenPath),
		errors.Is(err, spectrum.ErrMalformedBitmap),
		errors.Is(err, spectrum.ErrWidthMismatch),
		errors.Is(err, model.ErrInvalidDevice),
		errors.Is(err, model.ErrInvalidEndpoint),
		errors.Is(err, model.ErrInvalidLink):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
