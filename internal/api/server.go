package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"casino-tx-relay/internal/models"
	"casino-tx-relay/internal/ratelimit"
	"casino-tx-relay/internal/relay"
	"casino-tx-relay/internal/telemetry"
)

// Historian serves archived terminal operations for the history endpoint.
type Historian interface {
	RecentByPlayer(ctx context.Context, player string, limit int) ([]models.Operation, error)
}

// Server wires the relay's HTTP surface.
type Server struct {
	queue   *relay.Queue
	limiter *ratelimit.Limiter
	history Historian
	log     zerolog.Logger
}

// New constructs the API server. limiter and history may be nil.
func New(queue *relay.Queue, limiter *ratelimit.Limiter, history Historian, log zerolog.Logger) *Server {
	return &Server{queue: queue, limiter: limiter, history: history, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/v1/operations", s.handleEnqueue)
	r.Get("/v1/operations/{id}", s.handleStatus)
	r.Get("/v1/stats", s.handleStats)
	r.Get("/v1/history", s.handleHistory)
	return r
}

type enqueueRequest struct {
	Kind models.Kind         `json:"kind"`
	Log  *models.LogPayload  `json:"log,omitempty"`
	Mint *models.MintPayload `json:"mint,omitempty"`
}

type enqueueResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	var player string
	switch req.Kind {
	case models.KindLog:
		if req.Log == nil {
			writeError(w, http.StatusBadRequest, "log payload is required")
			return
		}
		player = req.Log.Player
	case models.KindMint:
		if req.Mint == nil {
			writeError(w, http.StatusBadRequest, "mint payload is required")
			return
		}
		player = req.Mint.Player
	default:
		writeError(w, http.StatusBadRequest, "kind must be LOG or MINT")
		return
	}

	if s.limiter != nil && player != "" {
		allowed, err := s.limiter.Allow(r.Context(), player)
		if err != nil {
			s.log.Warn().Err(err).Msg("rate limiter unavailable, letting request through")
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	var (
		id  string
		err error
	)
	if req.Kind == models.KindLog {
		id, err = s.queue.EnqueueLog(*req.Log)
	} else {
		id, err = s.queue.EnqueueMint(*req.Mint)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{ID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	op, ok := s.queue.Status(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history archive not configured")
		return
	}
	player := r.URL.Query().Get("player")
	if player == "" {
		writeError(w, http.StatusBadRequest, "player query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ops, err := s.history.RecentByPlayer(r.Context(), player, limit)
	if err != nil {
		s.log.Error().Err(err).Str("player", player).Msg("history lookup failed")
		writeError(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	if ops == nil {
		ops = []models.Operation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
