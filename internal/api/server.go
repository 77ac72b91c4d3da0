// Package api exposes the control and status surface of the pipeline over
// HTTP: health probes, Prometheus metrics, recent transcripts, pipeline
// counters, the pending-delivery backlog with manual resend, and a websocket
// live feed of finished results.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quietriver/earshot/internal/aggregate"
	"github.com/quietriver/earshot/internal/deliver"
	"github.com/quietriver/earshot/internal/health"
	"github.com/quietriver/earshot/internal/observe"
	"github.com/quietriver/earshot/internal/pendingstore"
	"github.com/quietriver/earshot/internal/store"
	"github.com/quietriver/earshot/internal/transcribe"
)

// defaultTranscriptLimit bounds GET /transcripts when no limit is given.
const defaultTranscriptLimit = 50

// Connectivity is the read side of the reachability prober.
type Connectivity interface {
	Online() bool
	LastCheck() time.Time
}

// Resender makes one immediate delivery attempt for a fresh record wrapping
// a recovered record's result.
type Resender interface {
	DeliverNow(ctx context.Context, rec *deliver.Record) (*deliver.Record, error)
}

// PipelineStatus reports live pipeline counters for GET /status.
type PipelineStatus interface {
	QueueLen() int
	QueueDropped() uint64
	DeliveryBacklog() int
	EngineName() string
}

// Config carries the collaborators the server reads from. Memory and Health
// are required; everything else degrades to an absent section or a 404 on
// the corresponding route when nil.
type Config struct {
	Memory     *store.Memory
	Pending    pendingstore.Store
	Resend     Resender
	Probe      Connectivity
	Pipeline   PipelineStatus
	Aggregator *aggregate.Aggregator
	Health     *health.Handler
	Metrics    *observe.Metrics
}

// Server is the HTTP control surface. Create with New, mount via Handler,
// and push finished results through Broadcast for websocket subscribers.
type Server struct {
	cfg Config

	mu   sync.Mutex
	subs map[chan transcribe.Result]struct{}
}

// New creates a Server. It does not start listening; use Handler with an
// http.Server owned by the caller.
func New(cfg Config) *Server {
	return &Server{
		cfg:  cfg,
		subs: make(map[chan transcribe.Result]struct{}),
	}
}

// Handler builds the route table. When metrics are configured every route is
// wrapped in the request-duration middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /transcripts", s.handleTranscripts)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /blocks", s.handleBlocks)
	mux.HandleFunc("GET /pending", s.handlePending)
	mux.HandleFunc("POST /pending/{id}/resend", s.handleResend)
	mux.HandleFunc("GET /ws", s.handleWS)

	if s.cfg.Metrics != nil {
		return observe.Middleware(s.cfg.Metrics)(mux)
	}
	return mux
}

// ─── Transcripts ─────────────────────────────────────────────────────────────

type transcriptsResponse struct {
	Results []transcribe.Result `json:"results"`
	Stats   store.Stats         `json:"stats"`
}

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultTranscriptLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := transcriptsResponse{
		Results: s.cfg.Memory.Recent(limit),
		Stats:   s.cfg.Memory.Stats(),
	}
	if res.Results == nil {
		res.Results = []transcribe.Result{}
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Status ──────────────────────────────────────────────────────────────────

type statusResponse struct {
	Online          *bool       `json:"online,omitempty"`
	LastCheck       *time.Time  `json:"last_check,omitempty"`
	Engine          string      `json:"engine,omitempty"`
	QueueDepth      int         `json:"queue_depth"`
	QueueDropped    uint64      `json:"queue_dropped"`
	DeliveryBacklog int         `json:"delivery_backlog"`
	Transcripts     store.Stats `json:"transcripts"`
	Partial         string      `json:"partial,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	res := statusResponse{Transcripts: s.cfg.Memory.Stats()}

	if s.cfg.Probe != nil {
		online := s.cfg.Probe.Online()
		last := s.cfg.Probe.LastCheck()
		res.Online = &online
		res.LastCheck = &last
	}
	if s.cfg.Pipeline != nil {
		res.Engine = s.cfg.Pipeline.EngineName()
		res.QueueDepth = s.cfg.Pipeline.QueueLen()
		res.QueueDropped = s.cfg.Pipeline.QueueDropped()
		res.DeliveryBacklog = s.cfg.Pipeline.DeliveryBacklog()
	}
	if s.cfg.Aggregator != nil {
		res.Partial = s.cfg.Aggregator.Partial()
	}

	writeJSON(w, http.StatusOK, res)
}

// ─── Hourly blocks ───────────────────────────────────────────────────────────

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Aggregator == nil {
		writeError(w, http.StatusNotFound, "aggregation disabled")
		return
	}
	limit, err := queryLimit(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blocks := s.cfg.Aggregator.Blocks(limit)
	if blocks == nil {
		blocks = []aggregate.Block{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

// ─── Pending + resend ────────────────────────────────────────────────────────

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Pending == nil {
		writeError(w, http.StatusNotFound, "pending store disabled")
		return
	}

	recs, err := s.cfg.Pending.List(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("pending list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "pending store error")
		return
	}
	if recs == nil {
		recs = []*deliver.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": recs})
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Pending == nil || s.cfg.Resend == nil {
		writeError(w, http.StatusNotFound, "resend disabled")
		return
	}

	id := r.PathValue("id")
	rec, err := s.cfg.Pending.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pendingstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no record %q", id))
			return
		}
		observe.Logger(r.Context()).Error("pending get failed", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "pending store error")
		return
	}

	// Delivered is terminal; resending it again would duplicate the send.
	if rec.Status == deliver.StatusDelivered {
		writeError(w, http.StatusConflict, fmt.Sprintf("record %q already delivered", id))
		return
	}

	fresh, err := s.cfg.Resend.DeliverNow(r.Context(), rec)
	if err != nil {
		// The fresh record supersedes the recovered one in the backlog.
		if saveErr := s.cfg.Pending.Save(r.Context(), fresh); saveErr != nil {
			observe.Logger(r.Context()).Error("pending save failed", "id", fresh.ID, "err", saveErr)
		} else if delErr := s.cfg.Pending.Delete(r.Context(), id); delErr != nil {
			observe.Logger(r.Context()).Error("pending delete failed", "id", id, "err", delErr)
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"id":       fresh.ID,
			"status":   fresh.Status,
			"attempts": fresh.Attempts,
			"error":    err.Error(),
		})
		return
	}

	if err := s.cfg.Pending.MarkDelivered(r.Context(), id); err != nil {
		observe.Logger(r.Context()).Error("mark delivered failed", "id", id, "err", err)
	}
	observe.Logger(r.Context()).Info("pending record resent", "id", id, "resend", fresh.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       fresh.ID,
		"status":   fresh.Status,
		"attempts": fresh.Attempts,
	})
}

// ─── Websocket live feed ─────────────────────────────────────────────────────

// Broadcast fans a finished result out to all websocket subscribers. Slow
// subscribers have the result dropped rather than stalling the pipeline.
func (s *Server) Broadcast(res transcribe.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- res:
		default:
		}
	}
}

// Subscribers returns the current number of websocket subscribers.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) subscribe() chan transcribe.Result {
	ch := make(chan transcribe.Result, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan transcribe.Result) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "server closing")

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-ch:
			data, err := json.Marshal(res)
			if err != nil {
				slog.Error("marshal result failed", "seq", res.Seq, "err", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// queryLimit parses the optional ?limit= parameter. 0 means no limit.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
