// Package handlers provides HTTP handlers for the portfolio optimizer.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/aristath/mktcalc/internal/modules/journal"
	"github.com/aristath/mktcalc/internal/modules/optimization"
	"github.com/aristath/mktcalc/pkg/formulas"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Error codes beyond the optimizer's input error codes
const (
	CodeTimeout         = "TIMEOUT"
	CodeJournalDisabled = "JOURNAL_DISABLED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL"
)

// MaxBatchSize caps the number of requests in one batch
const MaxBatchSize = 100

// RunLister reads the run journal
type RunLister interface {
	List(ctx context.Context, limit int) ([]journal.Run, error)
}

// Metrics receives request-level outcomes
type Metrics interface {
	ObserveError(err error)
	AddWSClients(delta float64)
}

// Handler handles optimizer HTTP requests
type Handler struct {
	service *optimization.Service
	runs    RunLister
	metrics Metrics
	wsRate  float64
	log     zerolog.Logger
}

// NewHandler creates a new optimizer handler. runs may be nil when the
// journal is disabled; wsRate is the per-connection websocket message rate.
func NewHandler(
	service *optimization.Service,
	runs RunLister,
	wsRate float64,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service: service,
		runs:    runs,
		wsRate:  wsRate,
		log:     log.With().Str("handler", "optimizer").Logger(),
	}
}

// SetMetrics sets the metrics sink
func (h *Handler) SetMetrics(m Metrics) {
	h.metrics = m
}

// Response is the envelope of every successful response
type Response struct {
	Data     interface{} `json:"data" msgpack:"data"`
	Metadata Metadata    `json:"metadata" msgpack:"metadata"`
}

// Metadata accompanies response data
type Metadata struct {
	Timestamp string                      `json:"timestamp" msgpack:"timestamp"`
	Context   *optimization.MarketContext `json:"context,omitempty" msgpack:"context,omitempty"`
	Warnings  []optimization.Warning      `json:"warnings,omitempty" msgpack:"warnings,omitempty"`
	Count     int                         `json:"count,omitempty" msgpack:"count,omitempty"`
}

// APIError is the body of a failed request
type APIError struct {
	Code    string `json:"code" msgpack:"code"`
	Key     string `json:"key,omitempty" msgpack:"key,omitempty"`
	Message string `json:"message" msgpack:"message"`
}

// ErrorResponse wraps APIError
type ErrorResponse struct {
	Error APIError `json:"error" msgpack:"error"`
}

// BatchItem is the outcome of one request of a batch, in request order
type BatchItem struct {
	Index    int                    `json:"index" msgpack:"index"`
	Result   *optimization.Result   `json:"result,omitempty" msgpack:"result,omitempty"`
	Warnings []optimization.Warning `json:"warnings,omitempty" msgpack:"warnings,omitempty"`
	Error    *APIError              `json:"error,omitempty" msgpack:"error,omitempty"`
}

// EstimateRequest carries daily closing prices per symbol
type EstimateRequest struct {
	Prices map[string][]float64 `json:"prices" msgpack:"prices"`
}

func newMetadata() Metadata {
	return Metadata{Timestamp: time.Now().Format(time.RFC3339)}
}

// HandlePortfolio handles POST /api/optimizer/portfolio
func (h *Handler) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	var raw optimization.RawPortfolio
	if err := decodeBody(r, &raw); err != nil {
		h.writeError(w, r, badBody(err))
		return
	}

	params, result, warnings, err := h.service.RunPortfolio(r.Context(), raw)
	h.respondRun(w, r, params, result, warnings, err)
}

// HandleOptimize handles POST /api/optimizer/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimization.Request
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, badBody(err))
		return
	}

	params, result, warnings, err := h.service.RunRequest(r.Context(), req)
	h.respondRun(w, r, params, result, warnings, err)
}

// HandleSample handles GET /api/optimizer/sample
func (h *Handler) HandleSample(w http.ResponseWriter, r *http.Request) {
	vix := optimization.DefaultSampleVIX
	if v := r.URL.Query().Get("vix"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.writeError(w, r, &optimization.InputError{
				Code:    optimization.CodeParseError,
				Key:     optimization.KeyVIX,
				Message: "vix must be a number",
			})
			return
		}
		vix = parsed
	}

	params, result, warnings, err := h.service.RunRequest(r.Context(), optimization.SampleRequest(vix))
	h.respondRun(w, r, params, result, warnings, err)
}

// HandleBatch handles POST /api/optimizer/batch. Requests are solved
// concurrently; one failing request does not fail the batch.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	msgpackBody := isMsgpack(r.Header.Get("Content-Type"))
	items, err := decodeBatch(r, msgpackBody)
	if err != nil {
		h.writeError(w, r, badBody(err))
		return
	}
	if len(items) == 0 || len(items) > MaxBatchSize {
		h.writeError(w, r, &optimization.InputError{
			Code:    optimization.CodeInvalidInput,
			Message: "batch must hold between 1 and " + strconv.Itoa(MaxBatchSize) + " requests",
		})
		return
	}

	results := make([]BatchItem, len(items))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, data := range items {
		i, data := i, data
		g.Go(func() error {
			results[i] = h.runBatchItem(ctx, i, msgpackBody, data)
			return nil
		})
	}
	_ = g.Wait()

	meta := newMetadata()
	meta.Count = len(results)
	h.writeResponse(w, r, http.StatusOK, Response{Data: results, Metadata: meta})
}

func (h *Handler) runBatchItem(ctx context.Context, index int, msgpackBody bool, data []byte) BatchItem {
	item := BatchItem{Index: index}

	var req optimization.Request
	if err := unmarshalItem(msgpackBody, data, &req); err != nil {
		item.Error = h.apiError(badBody(err))
		return item
	}

	_, result, warnings, err := h.service.RunRequest(ctx, req)
	if err != nil {
		item.Error = h.apiError(err)
		return item
	}
	item.Result = result
	item.Warnings = warnings
	return item
}

// HandleEstimate handles POST /api/optimizer/estimate
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, badBody(err))
		return
	}

	est, err := formulas.Estimate(req.Prices)
	if err != nil {
		h.writeError(w, r, &optimization.InputError{Code: optimization.CodeInvalidInput, Message: err.Error()})
		return
	}

	meta := newMetadata()
	meta.Count = len(est.Instruments)
	h.writeResponse(w, r, http.StatusOK, Response{Data: est, Metadata: meta})
}

// HandleRuns handles GET /api/optimizer/runs
func (h *Handler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeErrorStatus(w, r, http.StatusServiceUnavailable, APIError{
			Code:    CodeJournalDisabled,
			Message: "run journal is disabled",
		})
		return
	}

	limit := journal.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			h.writeError(w, r, &optimization.InputError{
				Code:    optimization.CodeParseError,
				Key:     "limit",
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		h.writeError(w, r, err)
		return
	}

	meta := newMetadata()
	meta.Count = len(runs)
	h.writeResponse(w, r, http.StatusOK, Response{Data: runs, Metadata: meta})
}

// respondRun writes the outcome of a service run. Solver outcomes, including
// INFEASIBLE and SOLVER_ERROR, are 200 responses.
func (h *Handler) respondRun(w http.ResponseWriter, r *http.Request, params *optimization.Params, result *optimization.Result, warnings []optimization.Warning, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := optimization.WriteReport(w, params, result); err != nil {
			h.log.Error().Err(err).Msg("Failed to write report")
		}
		return
	}

	meta := newMetadata()
	meta.Context = &params.Context
	meta.Warnings = warnings
	h.writeResponse(w, r, http.StatusOK, Response{Data: result, Metadata: meta})
}

// apiError maps an error to its wire form and reports it to metrics
func (h *Handler) apiError(err error) *APIError {
	if h.metrics != nil {
		h.metrics.ObserveError(err)
	}

	if inputErr, ok := optimization.AsInputError(err); ok {
		return &APIError{Code: inputErr.Code, Key: inputErr.Key, Message: inputErr.Message}
	}
	if errors.Is(err, optimization.ErrTimeout) {
		return &APIError{Code: CodeTimeout, Message: err.Error()}
	}
	return &APIError{Code: CodeInternal, Message: "internal error"}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := h.apiError(err)

	status := http.StatusInternalServerError
	switch apiErr.Code {
	case optimization.CodeInvalidInput, optimization.CodeMissingParameter, optimization.CodeParseError:
		status = http.StatusBadRequest
	case CodeTimeout:
		status = http.StatusServiceUnavailable
	}
	h.writeErrorStatus(w, r, status, *apiErr)
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, apiErr APIError) {
	h.writeResponse(w, r, status, ErrorResponse{Error: apiErr})
}

// badBody turns a body decoding failure into an input error
func badBody(err error) error {
	return &optimization.InputError{Code: optimization.CodeInvalidInput, Message: err.Error()}
}
