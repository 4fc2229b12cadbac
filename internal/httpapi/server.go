// Package httpapi exposes the service surface: the telephony webhook, the
// media-stream websocket, and read-only call history endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go/twiml"

	"github.com/7777tbone7777/aiagents/internal/bridge"
	"github.com/7777tbone7777/aiagents/internal/calllog"
	"github.com/7777tbone7777/aiagents/internal/codec"
	"github.com/7777tbone7777/aiagents/internal/config"
	"github.com/7777tbone7777/aiagents/internal/observability"
)

// SessionFactory builds a fresh call session for one media-stream connection.
type SessionFactory func() *bridge.Session

type Server struct {
	cfg        config.Config
	registry   *bridge.Registry
	store      calllog.Store
	metrics    *observability.Metrics
	newSession SessionFactory
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, registry *bridge.Registry, store calllog.Store, metrics *observability.Metrics, newSession SessionFactory) *Server {
	return &Server{
		cfg:        cfg,
		registry:   registry,
		store:      store,
		metrics:    metrics,
		newSession: newSession,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Telephony media streams carry no browser Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"service": "voice-agent bridge",
			"status":  "ok",
		})
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/inbound", s.handleInbound)
	r.Post("/status", s.handleStatusCallback)
	r.Get("/media-stream", s.handleMediaStream)

	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/{callSid}", s.handleGetCall)
	r.Get("/v1/sessions", s.handleListSessions)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.registry.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.OpenAIAPIKey == "" {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "backend credential not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleInbound answers the telephony provider's incoming-call webhook with
// instructions to open a media stream back to this service.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	callSid := strings.TrimSpace(r.PostFormValue("CallSid"))
	from := strings.TrimSpace(r.PostFormValue("From"))
	to := strings.TrimSpace(r.PostFormValue("To"))

	if s.store != nil && callSid != "" {
		if err := s.store.StartCall(r.Context(), calllog.CallRecord{
			CallSid:    callSid,
			FromNumber: from,
			ToNumber:   to,
		}); err != nil {
			log.Printf("httpapi: start call record %s: %v", callSid, err)
		}
	}

	host := s.cfg.PublicHost
	if host == "" {
		host = r.Host
	}
	stream := &twiml.VoiceStream{
		Url: "wss://" + host + "/media-stream",
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "CallSid", Value: callSid},
		},
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(doc))
}

// handleStatusCallback receives call progress updates from the provider. The
// bridge already finalizes records itself; this is observability only.
func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	callSid := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")
	log.Printf("httpapi: call %s status %s", callSid, status)
	if s.metrics != nil && status != "" {
		s.metrics.CallEvents.WithLabelValues("status_" + status).Inc()
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMediaStream upgrades the telephony media-stream connection and runs one
// call session over it. The websocket read stays on this goroutine; writes are
// single-threaded through the outbound channel.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if s.newSession == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "session factory not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := s.newSession()
	inbound := make(chan codec.TelephonyMessage, 256)
	outbound := make(chan codec.TelephonyMessage, 256)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := sess.Run(ctx, inbound, outbound); err != nil {
			log.Printf("httpapi: session ended with error: %v", err)
		}
		cancel()
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

	conn.SetReadLimit(1 << 20)

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := codec.ParseTelephonyMessage(data)
		if err != nil {
			// A malformed control frame never kills the call.
			log.Printf("httpapi: dropping malformed telephony frame: %v", err)
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- msg:
		}
	}

	// Closing inbound tells the session the call itself ended; cancel only
	// after it finishes so hangup is not mistaken for cancellation.
	close(inbound)
	<-runDone
	cancel()
	<-writerDone
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "call log not configured")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	calls, err := s.store.RecentCalls(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "call log not configured")
		return
	}
	callSid := chi.URLParam(r, "callSid")

	record, err := s.store.Call(r.Context(), callSid)
	if errors.Is(err, calllog.ErrCallNotFound) {
		respondError(w, http.StatusNotFound, "call_not_found", "no call with sid "+callSid)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}

	turns, err := s.store.Turns(r.Context(), callSid)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call":       record,
		"transcript": turns,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.Snapshots()})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
