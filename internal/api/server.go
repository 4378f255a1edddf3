// Package api provides the HTTP server for an abshub node: workout
// submission, score and leaderboard reads, the inbound cross-chain relay
// endpoint and a live event stream.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imperfect-abs/abshub/internal/app/bridge"
	"github.com/imperfect-abs/abshub/internal/app/hub"
	"github.com/imperfect-abs/abshub/internal/app/rewards"
	"github.com/imperfect-abs/abshub/internal/health"
	"github.com/imperfect-abs/abshub/internal/infra/ccip"
)

// Server is the abshub HTTP API server.
type Server struct {
	hub               *hub.Service
	rewards           *rewards.Service // nil when the reward pool is disabled
	bridge            *bridge.Service  // nil when this node does not bridge
	checker           *health.Checker
	events            *EventHub
	version           string
	metricsEnabled    bool
	requireSignatures bool
	relaySigners      map[common.Address]bool
}

// NewServer creates a new API server over h.
func NewServer(h *hub.Service, events *EventHub) *Server {
	if events == nil {
		events = NewEventHub(0)
	}
	return &Server{hub: h, events: events, version: "dev", requireSignatures: true}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// RequireSignatures controls whether POST /api/workouts rejects unsigned
// submissions. On by default.
func (s *Server) RequireSignatures(on bool) { s.requireSignatures = on }

// SetRelaySigners replaces the set of relay keys whose signed bodies the
// receive endpoint accepts. With no signers every relayed message is refused.
func (s *Server) SetRelaySigners(addrs ...common.Address) {
	set := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		set[a] = true
	}
	s.relaySigners = set
}

// SetVersion sets the version reported by /api/version.
func (s *Server) SetVersion(v string) { s.version = v }

// SetRewards mounts the reward pool reads.
func (s *Server) SetRewards(r *rewards.Service) { s.rewards = r }

// SetBridge mounts the bridge reads.
func (s *Server) SetBridge(b *bridge.Service) { s.bridge = b }

// SetHealth reports c from /api/status.
func (s *Server) SetHealth(c *health.Checker) { s.checker = c }

// Events returns the live event hub.
func (s *Server) Events() *EventHub { return s.events }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
	})

	// Streams are long-lived; everything else gets a deadline.
	r.Get("/api/events", s.events.HandleSSE)
	r.Get("/api/events/ws", s.events.HandleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/api/status", s.handleStatus)
		r.Post("/api/workouts", s.handleSubmitWorkout)
		r.Post(ccip.ReceivePath, s.handleCCIPReceive)

		r.Route("/api/users/{address}", func(r chi.Router) {
			r.Get("/score", s.handleScore)
			r.Get("/sessions", s.handleSessions)
			r.Get("/sessions/{index}", s.handleSession)
			r.Get("/crosschain", s.handleCrossChain)
			if s.rewards != nil {
				r.Get("/rewards", s.handleUserRewards)
			}
			if s.bridge != nil {
				r.Get("/bridge", s.handleBridgeState)
			}
		})

		r.Get("/api/leaderboard", s.handleLeaderboard)
		r.Get("/api/leaderboard/top", s.handleTop)

		if s.rewards != nil {
			r.Get("/api/rewards", s.handleRewards)
		}
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// corsMiddleware adds CORS headers for browser dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
