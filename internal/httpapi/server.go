// Package httpapi exposes the REST and websocket surface of the realtime
// gateway.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/iammarcin/backend-sub006/internal/config"
	"github.com/iammarcin/backend-sub006/internal/history"
	"github.com/iammarcin/backend-sub006/internal/observability"
	"github.com/iammarcin/backend-sub006/internal/protocol"
	"github.com/iammarcin/backend-sub006/internal/registry"
	"github.com/iammarcin/backend-sub006/internal/session"
)

// Engine runs the session loop for one websocket connection.
type Engine interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	engine   Engine
	store    history.Store
	conns    *registry.Registry
	metrics  *observability.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(
	cfg config.Config,
	sessions *session.Manager,
	engine Engine,
	store history.Store,
	conns *registry.Registry,
	metrics *observability.Metrics,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		engine:   engine,
		store:    store,
		conns:    conns,
		metrics:  metrics,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Same-origin only by default so a foreign page cannot drive
				// the user's mic session if the gateway is exposed beyond
				// localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/realtime/session", s.handleCreateSession)
	r.Post("/v1/realtime/session/{id}/end", s.handleEndSession)
	r.Get("/v1/realtime/session/ws", s.handleSessionWS)
	r.Get("/v1/realtime/history", s.handleHistory)
	r.Get("/v1/realtime/perf", s.handlePerf)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	settings := session.Settings{
		AudioInput:      boolOr(req.AudioInput, true),
		TextOutput:      boolOr(req.TextOutput, true),
		AudioOutput:     boolOr(req.AudioOutput, false),
		LiveTranslation: boolOr(req.LiveTranslation, s.cfg.LiveTranslationDefault),
		VADEnabled:      s.cfg.VADEnabled,
		TargetLanguage:  s.cfg.TargetLanguage,
	}
	if lang := strings.TrimSpace(req.TargetLanguage); lang != "" {
		settings.TargetLanguage = lang
	}
	if !settings.TextOutput && !settings.AudioOutput {
		respondError(w, http.StatusBadRequest, "invalid_modalities", "at least one output modality must be enabled")
		return
	}

	sess := s.sessions.Create(req.UserID, settings)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Settings:        sess.Settings,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if userID == "" && sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id or session_id is required")
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	if s.store == nil {
		respondJSON(w, http.StatusOK, map[string]any{"turns": []history.TurnRecord{}})
		return
	}

	var turns []history.TurnRecord
	var err error
	if sessionID != "" {
		turns, err = s.store.SessionTurns(r.Context(), sessionID)
	} else {
		turns, err = s.store.RecentTurns(r.Context(), userID, limit)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", "could not load turn history")
		return
	}
	if turns == nil {
		turns = []history.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) handlePerf(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.PhaseSnapshot())
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "engine not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "session_ended", "session is no longer active")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}
	s.log.Info("websocket connected", "session_id", sess.ID, "user_id", sess.UserID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, s.cfg.OutboundQueueSize)

	if s.conns != nil {
		s.conns.Register(sess.UserID, sess.ID, outboundPush{ch: outbound})
		defer s.conns.Unregister(sess.UserID, sess.ID)
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := s.engine.RunConnection(ctx, sess, inbound, outbound); err != nil {
			s.log.Error("session loop failed", "session_id", sess.ID, "err", err)
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:        protocol.TypeErrorEvent,
				SessionID:   sessionID,
				Code:        "invalid_client_message",
				Message:     "Message was not understood.",
				Recoverable: true,
			}
			select {
			case outbound <- errEvent:
			default:
				// Writer is saturated; the malformed-input notice is the first
				// thing worth shedding.
			}
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
	s.log.Info("websocket disconnected", "session_id", sess.ID)
}

// outboundPush lets the connection registry target this socket. Pushes ride
// the same outbound queue as session traffic so writes stay single-threaded.
type outboundPush struct {
	ch chan<- any
}

func (p outboundPush) Send(message map[string]any) error {
	select {
	case p.ch <- message:
		return nil
	default:
		return errors.New("outbound queue full")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
