package apiwatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/valwatch/kit"
)

// Requests and responses of the control endpoints. The MCP tools and the
// HTTP API decode into the same types.

type reportRequest struct {
	Raw     bool     `json:"raw,omitempty"`
	Rows    bool     `json:"rows,omitempty"`
	Records []Record `json:"records,omitempty"` // filter these instead of the current run
}

type recordsResponse struct {
	RunID   string   `json:"runId,omitempty"`
	Count   int      `json:"count"`
	Records []Record `json:"records"`
}

type rowsResponse struct {
	RunID string `json:"runId,omitempty"`
	Rows  []Row  `json:"rows"`
}

type visitRequest struct {
	URL    string `json:"url"`
	PageID string `json:"page_id,omitempty"`
}

type pageRef struct {
	PageID string `json:"page_id"`
}

type checkRequest struct {
	HTML string `json:"html"`
	URL  string `json:"url"`
	Body string `json:"body"` // raw response payload
}

type checkResponse struct {
	Tracked bool    `json:"tracked"`
	Record  *Record `json:"record,omitempty"`
}

type runsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type runsResponse struct {
	Runs []RunSummary `json:"runs"`
}

type runRequest struct {
	RunID string `json:"run_id"`
}

type runResponse struct {
	Run     *RunSummary `json:"run"`
	Records []Record    `json:"records"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// errInvalid marks requests rejected before reaching the watcher.
var errInvalid = errors.New("invalid request")

// endpoint wraps fn with the shared middleware chain.
func (w *Watcher) endpoint(name string, fn kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(w.logger, name))(fn)
}

func (w *Watcher) runID() string {
	if run := w.rec.Current(); run != nil {
		return run.ID()
	}
	return ""
}

func (w *Watcher) startEndpoint(_ context.Context, req any) (any, error) {
	return w.StartRecording(*req.(*Options)), nil
}

func (w *Watcher) stopEndpoint(_ context.Context, _ any) (any, error) {
	records, err := w.StopRecording()
	if err != nil {
		return nil, err
	}
	return recordsResponse{RunID: w.runID(), Count: len(records), Records: records}, nil
}

func (w *Watcher) reportEndpoint(_ context.Context, req any) (any, error) {
	r := req.(*reportRequest)
	if r.Rows {
		var rows []Row
		if r.Records != nil {
			rows = w.FilterRows(r.Records)
		} else {
			rows = w.Rows()
		}
		if rows == nil {
			rows = []Row{}
		}
		return rowsResponse{RunID: w.runID(), Rows: rows}, nil
	}

	var records []Record
	switch {
	case r.Records != nil:
		records = w.FilterRecords(r.Records)
	case r.Raw:
		records = w.RawReport()
	default:
		records = w.Report()
	}
	return recordsResponse{RunID: w.runID(), Count: len(records), Records: records}, nil
}

func (w *Watcher) clearEndpoint(_ context.Context, _ any) (any, error) {
	w.Clear()
	return okResponse{OK: true}, nil
}

func (w *Watcher) statusEndpoint(_ context.Context, _ any) (any, error) {
	return w.Status(), nil
}

func (w *Watcher) visitEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*visitRequest)
	if strings.TrimSpace(r.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", errInvalid)
	}
	id, err := w.Visit(ctx, r.URL, r.PageID)
	if err != nil {
		return nil, err
	}
	return pageRef{PageID: id}, nil
}

func (w *Watcher) closePageEndpoint(_ context.Context, req any) (any, error) {
	r := req.(*pageRef)
	if r.PageID == "" {
		return nil, fmt.Errorf("%w: page_id is required", errInvalid)
	}
	w.ClosePage(r.PageID)
	return okResponse{OK: true}, nil
}

func (w *Watcher) checkEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*checkRequest)
	if r.URL == "" {
		return nil, fmt.Errorf("%w: url is required", errInvalid)
	}
	rec, err := w.Check(ctx, strings.NewReader(r.HTML), r.URL, []byte(r.Body))
	if err != nil {
		return nil, err
	}
	return checkResponse{Tracked: rec != nil, Record: rec}, nil
}

func (w *Watcher) runsEndpoint(ctx context.Context, req any) (any, error) {
	runs, err := w.Runs(ctx, req.(*runsRequest).Limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []RunSummary{}
	}
	return runsResponse{Runs: runs}, nil
}

// errRunNotFound is returned by the run lookup for unknown IDs.
var errRunNotFound = errors.New("apiwatch: run not found")

func (w *Watcher) runEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*runRequest)
	if r.RunID == "" {
		return nil, fmt.Errorf("%w: run_id is required", errInvalid)
	}
	run, records, err := w.RunRecords(ctx, r.RunID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", errRunNotFound, r.RunID)
	}
	if records == nil {
		records = []Record{}
	}
	return runResponse{Run: run, Records: records}, nil
}
