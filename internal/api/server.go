package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"QuorumGate/internal/audit"
	"QuorumGate/internal/logger"
	"QuorumGate/internal/quorum"
	"QuorumGate/internal/roster"
)

// Attestor runs an attestation session and returns its recorded outcome.
type Attestor interface {
	Process(ctx context.Context, hash quorum.Hash) *quorum.Outcome
}

// StatusProvider exposes the quorum configuration for monitoring.
type StatusProvider interface {
	Policy() quorum.Policy
	Roster() *roster.Roster
}

// Server is the HTTP API server.
type Server struct {
	addr     string              // addr is the HTTP listen address
	attestor Attestor            // attestor runs sessions for POST /attest
	status   StatusProvider      // status provides the policy and roster
	audit    audit.Reader        // audit serves the detection and outcome logs
	gatherer prometheus.Gatherer // gatherer backs GET /metrics
	server   *http.Server        // server is the underlying HTTP server
	listener net.Listener        // listener is bound by Start

	inFlight atomic.Int64 // inFlight counts running sessions
	started  time.Time
}

// New creates a new HTTP API server. audit and gatherer may be nil.
func New(addr string, attestor Attestor, status StatusProvider, reader audit.Reader, gatherer prometheus.Gatherer) *Server {
	return &Server{
		addr:     addr,
		attestor: attestor,
		status:   status,
		audit:    reader,
		gatherer: gatherer,
		started:  time.Now(),
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /attest", s.handleAttest)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /audit/detections", s.handleDetections)
	mux.HandleFunc("GET /audit/outcomes", s.handleOutcomes)
	mux.HandleFunc("GET /audit/report", s.handleReport)
	mux.HandleFunc("GET /audit/export", s.handleExport)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// Start binds the listen address and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s:\n%w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", ln.Addr().String())

		if err := s.server.Serve(ln); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// AttestResponse is the outcome of POST /attest.
type AttestResponse struct {
	audit.Record
	Signature string `json:"signature,omitempty"` // Signature is the hex aggregate of a certified session
}

// handleAttest handles POST /attest requests.
func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	if s.attestor == nil {
		writeError(w, http.StatusServiceUnavailable, "attestation not available")
		return
	}

	hash, err := parseAttest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.inFlight.Add(1)
	out := s.attestor.Process(r.Context(), hash)
	s.inFlight.Add(-1)

	resp := AttestResponse{Record: out.Record()}

	if out.OK() {
		if agg, err := out.Certificate.Aggregate(); err == nil {
			resp.Signature = hex.EncodeToString(agg)
		}
	}

	logger.Debug("attest request served", "payload", hash.Short(), "certified", out.OK())

	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// memberStatus is one roster entry in GET /status.
type memberStatus struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Address   string `json:"address,omitempty"`
	Simulated bool   `json:"simulated"`
	Behavior  string `json:"behavior,omitempty"`
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}

	members := s.status.Roster().Members()
	list := make([]memberStatus, len(members))

	for i, m := range members {
		list[i] = memberStatus{
			ID:        m.ID,
			PublicKey: hex.EncodeToString(m.PublicKey),
			Address:   m.Address,
			Simulated: m.Simulated(),
			Behavior:  m.Behavior,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"policy":   s.status.Policy(),
		"members":  list,
		"inFlight": s.inFlight.Load(),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}

// handleDetections handles GET /audit/detections?since= requests.
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if !s.auditAvailable(w) {
		return
	}

	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dets, err := s.audit.Detections(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, nonNil(dets))
}

// handleOutcomes handles GET /audit/outcomes?since= requests.
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if !s.auditAvailable(w) {
		return
	}

	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outs, err := s.audit.Outcomes(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, nonNil(outs))
}

// handleReport handles GET /audit/report requests.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !s.auditAvailable(w) {
		return
	}

	dets, outs, err := s.readAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var n, f int
	if s.status != nil {
		p := s.status.Policy()
		n, f = p.N, p.F
	}

	writeJSON(w, http.StatusOK, audit.BuildReport(dets, outs, n, f))
}

// handleExport handles GET /audit/export requests.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !s.auditAvailable(w) {
		return
	}

	dets, outs, err := s.readAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, err := audit.Export(dets, outs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.qga"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// auditAvailable writes 503 when no audit reader is configured.
func (s *Server) auditAvailable(w http.ResponseWriter) bool {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not available")
		return false
	}

	return true
}

// readAll returns both logs from the start.
func (s *Server) readAll() ([]audit.Detection, []audit.Record, error) {
	dets, err := s.audit.Detections(0)
	if err != nil {
		return nil, nil, err
	}

	outs, err := s.audit.Outcomes(0)
	if err != nil {
		return nil, nil, err
	}

	return dets, outs, nil
}

// nonNil returns an empty slice for nil so lists encode as [].
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
