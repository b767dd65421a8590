// Package backend serves the POST /chat contract for local development and
// end-to-end tests.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/comigor/citizen-assistant/internal/agent"
	"github.com/comigor/citizen-assistant/internal/logger"
)

// Error codes returned in {"error": code} bodies.
const (
	CodeInvalidRequest  = "invalid_request"
	CodeSessionInvalid  = "session_invalid"
	CodeUpstreamFailure = "upstream_failure"
)

const tracerName = "github.com/comigor/citizen-assistant/internal/backend"

const (
	maxRequestBytes  = 64 << 10
	maxSessionTurns  = 2 * agent.DefaultMaxHistory
	maxRememberedIDs = 64
)

// Responder produces the reply text for one user message.
type Responder interface {
	Process(ctx context.Context, history []agent.Turn, request string) (string, error)
}

type chatRequest struct {
	Message      string `json:"message"`
	SessionToken string `json:"sessionToken"`
}

type chatResponse struct {
	Reply        string `json:"reply"`
	SessionToken string `json:"sessionToken"`
}

type session struct {
	turns    []agent.Turn
	replies  map[string]string
	keys     []string
	lastSeen time.Time
}

// Server holds per-session history in memory.
type Server struct {
	responder Responder
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func New(responder Responder) *Server {
	return &Server{
		responder: responder,
		log:       logger.L.With("component", "backend"),
		now:       time.Now,
		sessions:  make(map[string]*session),
	}
}

// Router returns the HTTP handler with middleware installed.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/chat", s.HandleChat)
	r.Head("/chat", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()))
	})
}

// HandleChat answers one user turn. A repeated Idempotency-Key within a
// session returns the stored reply instead of generating a new one.
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, CodeInvalidRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		Error(w, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	token := req.SessionToken
	if token == "" {
		token = uuid.NewString()
	} else if _, err := uuid.Parse(token); err != nil {
		Error(w, http.StatusUnauthorized, CodeSessionInvalid)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	history, cached, ok := s.begin(token, key)
	if ok {
		s.log.Debug("replaying stored reply", "idempotency_key", key)
		JSON(w, http.StatusOK, chatResponse{Reply: cached, SessionToken: token})
		return
	}

	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "chat.reply",
		trace.WithAttributes(attribute.Int("chat.history_len", len(history))))
	reply, err := s.responder.Process(ctx, history, req.Message)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if err != nil {
		s.log.Error("reply generation failed", "error", err, "user_id", r.Header.Get("X-User-Id"))
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		Error(w, status, CodeUpstreamFailure)
		return
	}

	s.commit(token, key, req.Message, reply)
	JSON(w, http.StatusOK, chatResponse{Reply: reply, SessionToken: token})
}

// begin returns a copy of the session history, or the stored reply for key.
func (s *Server) begin(token, key string) ([]agent.Turn, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[token]
	if sess == nil {
		sess = &session{replies: make(map[string]string)}
		s.sessions[token] = sess
	}
	sess.lastSeen = s.now()
	if key != "" {
		if reply, ok := sess.replies[key]; ok {
			return nil, reply, true
		}
	}
	return append([]agent.Turn(nil), sess.turns...), "", false
}

func (s *Server) commit(token, key, message, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[token]
	if sess == nil {
		return
	}
	sess.turns = append(sess.turns,
		agent.Turn{Role: openai.ChatMessageRoleUser, Content: message},
		agent.Turn{Role: openai.ChatMessageRoleAssistant, Content: reply})
	if len(sess.turns) > maxSessionTurns {
		sess.turns = append([]agent.Turn(nil), sess.turns[len(sess.turns)-maxSessionTurns:]...)
	}
	if key == "" {
		return
	}
	sess.replies[key] = reply
	sess.keys = append(sess.keys, key)
	if len(sess.keys) > maxRememberedIDs {
		delete(sess.replies, sess.keys[0])
		sess.keys = sess.keys[1:]
	}
}

// Prune drops sessions idle for longer than ttl and reports how many went.
func (s *Server) Prune(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	n := 0
	for token, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}

// StartPruner runs Prune every interval until ctx is done.
func (s *Server) StartPruner(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Prune(ttl); n > 0 {
					s.log.Info("pruned idle sessions", "count", n)
				}
			}
		}
	}()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, code string) {
	JSON(w, status, map[string]string{"error": code})
}
