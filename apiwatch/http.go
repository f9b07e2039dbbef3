package apiwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/valwatch/apiwatch/report"
	"github.com/hazyhaar/valwatch/apiwatch/tracker"
	"github.com/hazyhaar/valwatch/kit"
	"github.com/hazyhaar/valwatch/shield"
)

// Handler returns the HTTP control API with the standard middleware stack.
// visitLimit bounds page visits per client per minute; zero disables it.
func (w *Watcher) Handler(visitLimit int) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(w.logger) {
		r.Use(mw)
	}
	w.RegisterHTTP(r, shield.NewRateLimiter(visitLimit, 0, w.logger))
	return r
}

// RegisterHTTP mounts the control API on r. limiter guards the routes that
// open browser tabs and may be nil.
func (w *Watcher) RegisterHTTP(r chi.Router, limiter *shield.RateLimiter) {
	r.Get("/health", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", w.serve("status", w.statusEndpoint, decodeNone))
		r.Post("/recording/start", w.serve("start_recording", w.startEndpoint, decodeBody[Options]))
		r.Post("/recording/stop", w.serve("stop_recording", w.stopEndpoint, decodeNone))
		r.Post("/clear", w.serve("clear", w.clearEndpoint, decodeNone))

		r.Get("/report", w.serve("get_report", w.reportEndpoint, decodeReportQuery))
		r.Get("/report/download", w.downloadReport)
		r.Post("/report/filter", w.serve("filter_report", w.reportEndpoint, decodeFilterBody))

		r.Post("/check", w.serve("check", w.checkEndpoint, decodeBody[checkRequest]))

		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(limiter.Middleware)
			}
			r.Post("/visit", w.serve("visit", w.visitEndpoint, decodeBody[visitRequest]))
		})
		r.Delete("/pages/{pageID}", w.serve("close_page", w.closePageEndpoint, func(req *http.Request) (any, error) {
			return &pageRef{PageID: chi.URLParam(req, "pageID")}, nil
		}))

		r.Get("/runs", w.serve("list_runs", w.runsEndpoint, func(req *http.Request) (any, error) {
			return &runsRequest{Limit: queryInt(req, "limit", 0)}, nil
		}))
		r.Get("/runs/{runID}", w.serve("get_run", w.runEndpoint, func(req *http.Request) (any, error) {
			return &runRequest{RunID: chi.URLParam(req, "runID")}, nil
		}))
	})
}

// serve adapts an endpoint to HTTP: decode, call through the middleware
// chain, encode the response or the mapped error.
func (w *Watcher) serve(name string, fn kit.Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	endpoint := w.endpoint(name, fn)
	return func(rw http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
		ctx := kit.WithTransport(r.Context(), "http")
		resp, err := endpoint(ctx, req)
		if err != nil {
			writeError(rw, statusFor(err), err)
			return
		}
		writeJSON(rw, http.StatusOK, resp)
	}
}

// downloadReport serves every record of the current run as a JSON
// attachment.
func (w *Watcher) downloadReport(rw http.ResponseWriter, r *http.Request) {
	ctx := kit.WithTransport(r.Context(), "http")
	resp, err := w.endpoint("download_report", w.reportEndpoint)(ctx, &reportRequest{Raw: true})
	if err != nil {
		writeError(rw, statusFor(err), err)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.DownloadName))
	rw.WriteHeader(http.StatusOK)
	if err := report.WriteJSON(rw, resp.(recordsResponse).Records); err != nil {
		w.logger.Warn("apiwatch: download report", "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalid), errors.Is(err, tracker.ErrInvalidJSON):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, errRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoStore):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeNone(*http.Request) (any, error) { return nil, nil }

// decodeBody decodes a JSON body into a new T. An empty body leaves T zero.
func decodeBody[T any](r *http.Request) (any, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return &v, nil
}

func decodeReportQuery(r *http.Request) (any, error) {
	q := r.URL.Query()
	return &reportRequest{
		Raw:  queryBool(q.Get("raw")),
		Rows: queryBool(q.Get("rows")),
	}, nil
}

// decodeFilterBody accepts either a bare array of records or an object with
// a records member.
func decodeFilterBody(r *http.Request) (any, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	req := &reportRequest{}
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &req.Records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
	} else if err := json.Unmarshal(raw, req); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if req.Records == nil {
		req.Records = []Record{}
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func queryBool(s string) bool {
	v, _ := strconv.ParseBool(s)
	return v
}
