// Package gateway exposes the agent over HTTP: a server-sent-events
// chat endpoint for the web client plus the WhatsApp webhook mount.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ikamba/ikamba-agent/pkg/agent"
	"github.com/ikamba/ikamba-agent/pkg/channels"
	"github.com/ikamba/ikamba-agent/pkg/config"
	"github.com/ikamba/ikamba-agent/pkg/logger"
	"github.com/ikamba/ikamba-agent/pkg/relay"
)

const chatMaxBodySize = 1 << 20 // 1MB

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) bool

type Server struct {
	config config.GatewayConfig
	agent  channels.Agent
	checks map[string]HealthCheck
	mux    *http.ServeMux
	server *http.Server
}

func NewServer(cfg config.GatewayConfig, ag channels.Agent) *Server {
	s := &Server{
		config: cfg,
		agent:  ag,
		checks: make(map[string]HealthCheck),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	return s
}

// AddHealthCheck registers a named dependency probe for /api/health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// MountWhatsApp routes the Meta webhook (both the GET handshake and
// POST deliveries) to the WhatsApp channel.
func (s *Server) MountWhatsApp(ch *channels.WhatsAppChannel) {
	s.mux.HandleFunc("/webhook/whatsapp", ch.HandleWebhook)
}

// Handler returns the routing mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming responses can stay open for a full model turn.
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("gateway", "HTTP gateway listening", map[string]interface{}{
		"addr": addr,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type chatRequest struct {
	ChatID  string `json:"chatId"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, chatMaxBodySize))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if req.ChatID == "" {
		http.Error(w, "chatId is required", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = "web:" + req.ChatID
	}

	sse, err := relay.NewSSEWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// The relay holds partially streamed tags until they close so the
	// client never renders a broken tag.
	stream := relay.New(func(chunk string) {
		_ = sse.Send(chunk)
	})

	_, err = s.agent.Process(r.Context(), agent.Request{
		Channel: "web",
		ChatID:  req.ChatID,
		UserID:  req.UserID,
		Content: req.Message,
	}, stream.Write)
	if err != nil {
		logger.ErrorCF("gateway", "Chat request failed", map[string]interface{}{
			"chat_id": req.ChatID,
			"error":   err.Error(),
		})
		_ = sse.SendError("The assistant is unavailable right now. Please try again.")
		_ = sse.Done()
		return
	}

	stream.Flush()
	_ = sse.Done()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]bool, len(s.checks))
	for name, check := range s.checks {
		healthy := check(ctx)
		deps[name] = healthy
		if !healthy {
			status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       status,
		"dependencies": deps,
	})
}
