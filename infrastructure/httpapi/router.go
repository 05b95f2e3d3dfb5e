// Package httpapi exposes the matchmaker over HTTP and websockets.
package httpapi

import (
	"chat-roulette/contract"
	"chat-roulette/domain/matchmaking"
	transport "chat-roulette/infrastructure/websocket"
	"chat-roulette/observability"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

//go:embed static
var static embed.FS

type Settings struct {
	AllowedOrigins    []string
	MaxUsernameLength int
	Connection        transport.Settings
}

type ChatHandler struct {
	matchmaker contract.IMatchmaker
	settings   Settings
	upgrader   websocket.Upgrader
	validate   *validator.Validate
	log        *slog.Logger
}

func NewChatHandler(matchmaker contract.IMatchmaker, settings Settings, log *slog.Logger) *ChatHandler {
	return &ChatHandler{
		matchmaker: matchmaker,
		settings:   settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(settings.AllowedOrigins),
		},
		validate: validator.New(),
		log:      log.With("component", "http"),
	}
}

func NewRouter(handler *ChatHandler, metrics *observability.Metrics, log *slog.Logger) http.Handler {
	ui, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", http.FileServerFS(ui))
	mux.HandleFunc("GET /v1/chat/connect", handler.Connect)
	mux.HandleFunc("GET /v1/chat/status", handler.Status)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	return Chain(mux,
		NewRequestLogger(log),
		NewCORS(handler.settings.AllowedOrigins),
	)
}

// Connect upgrades the request and serves the connection until it ends.
func (h *ChatHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Expected WebSocket", http.StatusBadRequest)
		return
	}
	query := r.URL.Query()
	req := matchmaking.ConnectRequest{
		UserID:      query.Get("userId"),
		DisplayName: strings.TrimSpace(query.Get("userName")),
	}
	if err := h.validateRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Upgrade failed", "error", err)
		return
	}
	conn := transport.NewConn(ws, h.matchmaker, h.settings.Connection, h.log)
	ticket, err := h.matchmaker.Connect(r.Context(), req, conn)
	if err != nil {
		h.log.Warn("Connection refused", "error", err)
		_ = conn.Close()
		return
	}
	h.log.Debug("Connection accepted", "session_id", ticket.SessionID, "user_id", ticket.UserID)
	conn.Serve(r.Context(), ticket.SessionID)
}

func (h *ChatHandler) validateRequest(req matchmaking.ConnectRequest) error {
	if err := h.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid userId: %w", err)
	}
	rule := fmt.Sprintf("max=%d", h.settings.MaxUsernameLength)
	if err := h.validate.Var(req.DisplayName, rule); err != nil {
		return fmt.Errorf("userName longer than %d characters", h.settings.MaxUsernameLength)
	}
	return nil
}

func (h *ChatHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.matchmaker.Status(r.Context())
	if err != nil {
		h.log.Warn("Status unavailable", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}
