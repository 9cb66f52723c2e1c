// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package server exposes biometric verification over HTTP.
//
// The server holds the secret key. Templates are enrolled once and referenced
// by storage handle. Authentications run synchronously, or asynchronously
// through a job queue drained by a WorkerPool.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/luxfi/biofhe"
	"github.com/luxfi/biofhe/internal/queue"
	"github.com/luxfi/biofhe/internal/storage"
	"github.com/luxfi/biofhe/internal/tables"
)

// Config holds server configuration.
type Config struct {
	Address string
	// Queue enables the /v1/jobs endpoints.
	Queue queue.Queue
	// Samples enables authentication by dataset sample id.
	Samples *tables.Provider
}

// Server serves one Verifier.
type Server struct {
	cfg      Config
	verifier *Verifier
	store    storage.Storage
}

// New creates a server.
func New(cfg Config, v *Verifier) *Server {
	return &Server{cfg: cfg, verifier: v, store: v.store}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/presets", s.handlePresets)
	mux.HandleFunc("GET /v1/strategies", s.handleStrategies)

	mux.HandleFunc("POST /v1/templates", s.handleEnroll)
	mux.HandleFunc("POST /v1/authenticate", s.handleAuthenticate)
	mux.HandleFunc("POST /v1/authenticate/samples", s.handleAuthenticateSamples)
	mux.HandleFunc("GET /v1/results/{handle}", s.handleResult)

	mux.HandleFunc("POST /v1/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// PublicError is the message a client sees for err. Engine failures are
// reported without detail.
func PublicError(err error) string {
	switch {
	case errors.Is(err, biofhe.ErrVerificationFailed):
		return "verification failed"
	case errors.Is(err, biofhe.ErrMalformedInput),
		errors.Is(err, biofhe.ErrDomainViolation),
		errors.Is(err, biofhe.ErrInvalidConfig),
		errors.Is(err, biofhe.ErrReducedAssurance),
		errors.Is(err, biofhe.ErrNoAccelerator),
		errors.Is(err, storage.ErrStorageFull):
		return err.Error()
	default:
		return "internal error"
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, biofhe.ErrMalformedInput),
		errors.Is(err, biofhe.ErrInvalidConfig),
		errors.Is(err, biofhe.ErrReducedAssurance):
		return http.StatusBadRequest
	case errors.Is(err, biofhe.ErrDomainViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, biofhe.ErrNoAccelerator):
		return http.StatusNotImplemented
	case errors.Is(err, storage.ErrStorageFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: PublicError(err)})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &biofhe.MalformedInputError{Source: "request body", Err: err}
	}
	return nil
}

// toCodes converts JSON integers to quantized codes.
func toCodes(name string, values []int) ([]biofhe.Code, error) {
	codes := make([]biofhe.Code, len(values))
	for i, v := range values {
		if v < 0 || v > biofhe.MaxBins {
			return nil, &biofhe.MalformedInputError{
				Source: name,
				Err:    fmt.Errorf("code %d at position %d is outside 0..%d", v, i, biofhe.MaxBins),
			}
		}
		codes[i] = biofhe.Code(v)
	}
	return codes, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.verifier.Config()
	strategy := s.verifier.Strategy()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"dataset":   cfg.Dataset(),
		"strategy":  strategy.String(),
		"assurance": strategy.Assurance(cfg).String(),
		"jobs":      s.cfg.Queue != nil,
		"samples":   s.cfg.Samples != nil,
	})
}

// PresetInfo describes a dataset configuration.
type PresetInfo struct {
	Name        string `json:"name"`
	BlockLength int    `json:"block_length"`
	BlockCount  int    `json:"block_count"`
	SumWidth    int    `json:"sum_width"`
	Features    int    `json:"features"`
	Threshold   int64  `json:"threshold"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	names := biofhe.Presets()
	out := make([]PresetInfo, 0, len(names))
	for _, name := range names {
		cfg, err := biofhe.Preset(name)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, PresetInfo{
			Name:        cfg.Dataset(),
			BlockLength: cfg.BlockLength(),
			BlockCount:  cfg.BlockCount(),
			SumWidth:    cfg.SumWidth(),
			Features:    cfg.Features(),
			Threshold:   cfg.Threshold(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// StrategyInfo describes a named strategy for the served dataset.
type StrategyInfo struct {
	Name      string `json:"name"`
	Assurance string `json:"assurance"`
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	cfg := s.verifier.Config()
	names := biofhe.StrategyNames()
	out := make([]StrategyInfo, 0, len(names))
	for _, name := range names {
		st, err := biofhe.ParseStrategy(name)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, StrategyInfo{Name: name, Assurance: st.Assurance(cfg).String()})
	}
	writeJSON(w, http.StatusOK, out)
}

// EnrollRequest carries a quantized template.
type EnrollRequest struct {
	Template []int `json:"template"`
}

// EnrollResponse names the stored template.
type EnrollResponse struct {
	Handle string `json:"handle"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	template, err := toCodes("template", req.Template)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := s.verifier.Enroll(r.Context(), template)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, EnrollResponse{Handle: string(h)})
}

// AuthenticateRequest matches a probe against an enrolled template or an
// inline one.
type AuthenticateRequest struct {
	TemplateHandle string `json:"template_handle,omitempty"`
	Template       []int  `json:"template,omitempty"`
	Probe          []int  `json:"probe"`
	Strategy       string `json:"strategy,omitempty"`
}

// AuthenticateResponse reports the decision.
type AuthenticateResponse struct {
	Match        bool   `json:"match"`
	ResultHandle string `json:"result_handle"`
	Strategy     string `json:"strategy"`
}

func (s *Server) resolveTemplate(ctx context.Context, handle string, inline []int) ([]biofhe.Code, error) {
	switch {
	case handle != "" && inline != nil:
		return nil, &biofhe.MalformedInputError{Source: "request body", Err: errors.New("both template and template_handle given")}
	case handle != "":
		h, err := storage.ParseHandle(handle)
		if err != nil {
			return nil, &biofhe.MalformedInputError{Source: "template_handle", Err: err}
		}
		return s.verifier.Template(ctx, h)
	default:
		return toCodes("template", inline)
	}
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	template, err := s.resolveTemplate(r.Context(), req.TemplateHandle, req.Template)
	if err != nil {
		writeError(w, err)
		return
	}
	probe, err := toCodes("probe", req.Probe)
	if err != nil {
		writeError(w, err)
		return
	}
	s.authenticate(r.Context(), w, template, probe, req.Strategy)
}

func (s *Server) authenticate(ctx context.Context, w http.ResponseWriter, template, probe []biofhe.Code, strategy string) {
	res, err := s.verifier.Authenticate(ctx, template, probe, strategy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthenticateResponse{
		Match:        res.Match,
		ResultHandle: string(res.ResultHandle),
		Strategy:     res.Strategy,
	})
}

// SampleRequest names two dataset samples by 1-based id.
type SampleRequest struct {
	ProbeID    int    `json:"probe_id"`
	TemplateID int    `json:"template_id"`
	Strategy   string `json:"strategy,omitempty"`
}

func (s *Server) handleAuthenticateSamples(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Samples == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no dataset loaded"})
		return
	}
	var req SampleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	probe, template, err := s.cfg.Samples.ProbeAndTemplate(req.ProbeID, req.TemplateID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.authenticate(r.Context(), w, template, probe, req.Strategy)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	h, err := storage.ParseHandle(r.PathValue("handle"))
	if err != nil {
		writeError(w, &biofhe.MalformedInputError{Source: "handle", Err: err})
		return
	}
	data, err := s.store.Load(r.Context(), h)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "result not found"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// JobRequest submits an asynchronous authentication.
type JobRequest struct {
	TemplateHandle string `json:"template_handle"`
	Probe          []int  `json:"probe"`
	Strategy       string `json:"strategy,omitempty"`
}

// JobResponse reports a job's state.
type JobResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Match        *bool  `json:"match,omitempty"`
	ResultHandle string `json:"result_handle,omitempty"`
	Error        string `json:"error,omitempty"`
}

func jobResponse(job *queue.Job) JobResponse {
	resp := JobResponse{
		ID:           job.ID,
		Status:       job.Status.String(),
		ResultHandle: job.ResultHandle,
		Error:        job.Error,
	}
	if job.Status == queue.StatusCompleted {
		match := job.Match
		resp.Match = &match
	}
	return resp
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job queue disabled"})
		return
	}
	var req JobRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := storage.ParseHandle(req.TemplateHandle); err != nil {
		writeError(w, &biofhe.MalformedInputError{Source: "template_handle", Err: err})
		return
	}
	probe, err := toCodes("probe", req.Probe)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Strategy != "" {
		if _, err := biofhe.ParseStrategy(req.Strategy); err != nil {
			writeError(w, err)
			return
		}
	}
	job := &queue.Job{
		ID:             uuid.NewString(),
		Dataset:        s.verifier.Config().Dataset(),
		Strategy:       req.Strategy,
		TemplateHandle: req.TemplateHandle,
		Probe:          probe,
	}
	if err := s.cfg.Queue.Push(r.Context(), job); err != nil {
		writeError(w, fmt.Errorf("enqueue: %w", err))
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job queue disabled"})
		return
	}
	job, err := s.cfg.Queue.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, queue.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}
