// Package api exposes the kernel's read surfaces over REST and a live
// websocket event stream.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/hivemind/orchestrator/internal/delivery"
	"github.com/hivemind/orchestrator/internal/kernel"
	"github.com/hivemind/orchestrator/internal/promotion"
	"github.com/hivemind/orchestrator/internal/telemetry"
)

// Server wires the kernel's query surfaces onto HTTP.
type Server struct {
	kernel    *kernel.Kernel
	tracker   *delivery.Tracker
	promotion *promotion.Engine
	registry  *prometheus.Registry
	logger    *log.Entry
}

// NewServer returns an API server over the given collaborators. The
// prometheus registry may be nil; /metrics then serves the default one.
func NewServer(k *kernel.Kernel, t *delivery.Tracker, p *promotion.Engine, reg *prometheus.Registry) *Server {
	return &Server{
		kernel:    k,
		tracker:   t,
		promotion: p,
		registry:  reg,
		logger:    log.WithField("component", "api"),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	var r = mux.NewRouter()

	r.HandleFunc("/v1/events", s.handleEvents).Methods("GET")
	r.HandleFunc("/v1/events/chain/{correlationId}", s.handleChain).Methods("GET")
	r.HandleFunc("/v1/state", s.handleRecipients).Methods("GET")
	r.HandleFunc("/v1/state/{recipientId}", s.handleState).Methods("GET")
	r.HandleFunc("/v1/delivery/metrics", s.handleDeliveryMetrics).Methods("GET")
	r.HandleFunc("/v1/kernel/counters", s.handleCounters).Methods("GET")
	r.HandleFunc("/v1/contracts", s.handleContracts).Methods("GET")
	r.HandleFunc("/v1/contracts/{id}/signoff", s.handleSignoff).Methods("POST")
	r.HandleFunc("/v1/contracts/{id}/promote", s.handlePromote).Methods("POST")
	r.HandleFunc("/v1/stream", s.handleStream).Methods("GET")

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// Start serves until the listener fails.
func (s *Server) Start(port string) error {
	var srv = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.WithField("port", port).Info("api server listening")
	return srv.ListenAndServe()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var qp = r.URL.Query()
	var q = telemetry.Query{
		CorrelationID: qp.Get("correlationId"),
		RecipientID:   qp.Get("recipientId"),
		Type:          qp.Get("type"),
	}
	if types := qp.Get("types"); types != "" {
		q.Types = strings.Split(types, ",")
	}
	q.Since = parseInt64(qp.Get("since"))
	q.Until = parseInt64(qp.Get("until"))
	q.Limit = int(parseInt64(qp.Get("limit")))

	writeJSON(w, s.kernel.Query(q))
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	var correlationID = mux.Vars(r)["correlationId"]
	writeJSON(w, s.kernel.CausationChain(correlationID))
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"recipients": s.kernel.KnownRecipients()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	var recipientID = mux.Vars(r)["recipientId"]
	writeJSON(w, map[string]interface{}{
		"recipientId":   recipientID,
		"state":         s.kernel.State(recipientID),
		"deferredDepth": s.kernel.DeferredLen(recipientID),
	})
}

func (s *Server) handleDeliveryMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.tracker.Metrics().Snapshot())
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"counters":       s.kernel.Counters(),
		"ringSize":       s.kernel.RingSize(),
		"safeModeActive": s.kernel.SafeModeActive(),
	})
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	type contractView struct {
		ID        string          `json:"id"`
		Version   string          `json:"version,omitempty"`
		Owner     string          `json:"owner,omitempty"`
		AppliesTo []string        `json:"appliesTo"`
		Mode      string          `json:"mode"`
		Action    string          `json:"action"`
		Stats     promotion.Stats `json:"stats"`
	}
	var out = []contractView{}
	for _, c := range s.kernel.Contracts().Snapshot() {
		out = append(out, contractView{
			ID:        c.ID,
			Version:   c.Version,
			Owner:     c.Owner,
			AppliesTo: c.AppliesTo,
			Mode:      string(c.Mode),
			Action:    string(c.Action),
			Stats:     s.promotion.Stats(c.ID),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleSignoff(w http.ResponseWriter, r *http.Request) {
	var id = mux.Vars(r)["id"]
	var req struct {
		Agent string `json:"agent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Agent == "" {
		writeError(w, http.StatusBadRequest, "agent required")
		return
	}
	if s.kernel.Contracts().Get(id) == nil {
		writeError(w, http.StatusNotFound, "unknown contract")
		return
	}
	s.promotion.AddSignoff(id, req.Agent)
	writeJSON(w, map[string]interface{}{
		"contractId": id,
		"stats":      s.promotion.Stats(id),
		"ready":      s.promotion.Ready(id),
	})
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var id = mux.Vars(r)["id"]
	if err := s.promotion.Promote(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"contractId": id,
		"mode":       "enforced",
	})
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	var n, _ = strconv.ParseInt(s, 10, 64)
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
