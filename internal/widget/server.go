// Package widget serves the browser chat surface and orchestrates turns:
// it owns session identity, the single-flight guard, history endpoints and
// live delivery over SSE and WebSocket. The heavy lifting (webhook calls,
// formatting) happens in the turn loop on the other side of the bus.
package widget

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/format"
	"chatrelay/internal/metrics"
	"chatrelay/internal/session"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxBodySize = 1 << 20 // 1MB
	turnTimeout = 120 * time.Second
)

//go:embed web_templates/*.html
var templateFS embed.FS

//go:embed web_assets/*
var assetsFS embed.FS

// Server implements domain.Channel for the web widget.
type Server struct {
	host    string
	port    int
	bus     domain.MessageBus
	history domain.HistoryStore
	theme   *Theme
	logger  *slog.Logger
	server  *http.Server
	tmpl    *htmltemplate.Template
	version string

	sessions *session.Manager
	turns    *session.Turns

	metricsEnabled  bool
	metricsEndpoint string

	authEnabled  bool
	authUser     string
	authPassHash string

	// SSE clients keyed by session ID for targeted delivery
	sseClients   map[string]chan domain.OutboundMessage
	sseClientsMu sync.RWMutex

	// Pending HTTP sends keyed by session ID
	pending   map[string]chan domain.OutboundMessage
	pendingMu sync.Mutex

	// WebSocket clients keyed by connection ID
	wsClients map[string]*wsClient
	wsMu      sync.RWMutex
}

type Config struct {
	Host            string
	Port            int
	History         domain.HistoryStore
	Theme           *Theme
	Logger          *slog.Logger
	Version         string
	AuthEnabled     bool
	AuthUsername    string
	AuthPassHash    string
	MetricsEnabled  bool
	MetricsEndpoint string
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Theme == nil {
		cfg.Theme = DefaultTheme()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsEndpoint == "" {
		cfg.MetricsEndpoint = "/metrics"
	}

	tmpl := htmltemplate.Must(htmltemplate.ParseFS(templateFS, "web_templates/*.html"))

	return &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		history:         cfg.History,
		theme:           cfg.Theme,
		logger:          cfg.Logger,
		tmpl:            tmpl,
		version:         cfg.Version,
		sessions:        session.NewManager(cfg.Logger),
		turns:           session.NewTurns(),
		metricsEnabled:  cfg.MetricsEnabled,
		metricsEndpoint: cfg.MetricsEndpoint,
		authEnabled:     cfg.AuthEnabled,
		authUser:        cfg.AuthUsername,
		authPassHash:    cfg.AuthPassHash,
		sseClients:      make(map[string]chan domain.OutboundMessage),
		pending:         make(map[string]chan domain.OutboundMessage),
		wsClients:       make(map[string]*wsClient),
	}
}

func (s *Server) Name() string { return "web" }

// SetBus attaches the bus and registers the outbound route for finished
// turns. Start calls this; tests call it directly.
func (s *Server) SetBus(bus domain.MessageBus) {
	s.bus = bus
	bus.OnOutbound("web", func(msg domain.OutboundMessage) {
		s.turns.End(msg.SessionID)
		s.resolvePending(msg)
		s.sendSSE(msg)
		s.broadcastWS(msg)
	})
}

// Start runs the widget server until ctx ends.
func (s *Server) Start(ctx context.Context, bus domain.MessageBus) error {
	s.SetBus(bus)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.logger.Info("widget server started", "addr", "http://"+addr, "auth", s.authEnabled)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	assetsHandler := http.FileServer(http.FS(assetsFS))
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		r.URL.Path = "web_assets/" + r.URL.Path
		rw.Header().Set("Cache-Control", "public, max-age=86400")
		assetsHandler.ServeHTTP(rw, r)
	})))

	mux.HandleFunc("GET /{$}", s.requireAuth(s.handlePage))
	mux.HandleFunc("POST /chat/send", s.requireAuth(s.handleSend))
	mux.HandleFunc("GET /chat/history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("POST /chat/clear", s.requireAuth(s.handleClear))
	mux.HandleFunc("GET /chat/stream", s.requireAuth(s.handleSSE))
	mux.HandleFunc("GET /chat/ws", s.requireAuth(s.handleWS))
	mux.HandleFunc("GET /status", s.handleStatus) // public endpoint

	if s.metricsEnabled {
		mux.Handle("GET "+s.metricsEndpoint, promhttp.Handler())
	}

	return mux
}

func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// requireAuth wraps a handler with HTTP Basic Auth when auth is enabled.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.authEnabled {
			next(rw, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !s.checkCredentials(user, pass) {
			rw.Header().Set("WWW-Authenticate", `Basic realm="chatrelay"`)
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(rw, r)
	}
}

// checkCredentials verifies username and password against the stored
// SHA-256 hex hash.
func (s *Server) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(s.authUser)) != 1 {
		return false
	}
	hash := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.authPassHash)) == 1
}

func (s *Server) handlePage(rw http.ResponseWriter, r *http.Request) {
	s.sessions.GetOrCreate(r, rw)
	if err := s.tmpl.ExecuteTemplate(rw, "chat.html", map[string]any{
		"Theme":   s.theme,
		"Version": s.version,
	}); err != nil {
		s.logger.Error("template error", "template", "chat", "err", err)
	}
}

// sendRequest is the widget's POST /chat/send body.
type sendRequest struct {
	Message string `json:"message"`
}

// sendResponse carries one finished turn back to the widget script.
type sendResponse struct {
	Reply     string `json:"reply"`
	HTML      string `json:"html"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleSend(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	defer r.Body.Close()

	var req sendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(rw, http.StatusBadRequest, "empty message")
		return
	}

	sessionID := s.sessions.GetOrCreate(r, rw)

	// One turn per conversation at a time. The widget script disables the
	// send button, but the server is the authority.
	if !s.turns.Begin(sessionID) {
		writeError(rw, http.StatusConflict, "a message is already being processed")
		return
	}
	defer s.turns.End(sessionID)

	responseCh := make(chan domain.OutboundMessage, 1)
	s.pendingMu.Lock()
	s.pending[sessionID] = responseCh
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		if ch, ok := s.pending[sessionID]; ok && ch == responseCh {
			delete(s.pending, sessionID)
		}
		s.pendingMu.Unlock()
	}()

	s.bus.Publish(domain.InboundMessage{
		Channel:   "web",
		SessionID: sessionID,
		Content:   req.Message,
		Timestamp: time.Now(),
	})

	timeout := time.NewTimer(turnTimeout)
	defer timeout.Stop()
	select {
	case msg := <-responseCh:
		if msg.Err != "" {
			// Delivery failed after all retries; user-visible, non-crashing.
			rw.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(rw).Encode(map[string]string{"error": msg.Err})
			return
		}
		json.NewEncoder(rw).Encode(sendResponse{
			Reply:     msg.Content,
			HTML:      msg.HTML,
			Timestamp: domain.NowMillis(),
		})
	case <-timeout.C:
		rw.WriteHeader(http.StatusGatewayTimeout)
		json.NewEncoder(rw).Encode(map[string]string{"error": "Request timed out"})
	case <-r.Context().Done():
		s.logger.Info("widget client disconnected", "session", sessionID)
	}
}

// historyEntry is one persisted message plus its rendering.
type historyEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	HTML      string `json:"html"`
}

func (s *Server) handleHistory(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	sessionID := s.sessions.GetOrCreate(r, rw)

	msgs, err := s.history.Messages(r.Context(), sessionID, 0)
	if err != nil {
		metrics.HistoryErrors.Inc()
		s.logger.Error("load history failed", "session", sessionID, "err", err)
		writeError(rw, http.StatusInternalServerError, "cannot load history")
		return
	}

	entries := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, historyEntry{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			HTML:      format.Format(m.Content),
		})
	}
	json.NewEncoder(rw).Encode(map[string]any{"messages": entries})
}

func (s *Server) handleClear(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	sessionID := s.sessions.GetOrCreate(r, rw)

	if err := s.history.Clear(r.Context(), sessionID); err != nil {
		metrics.HistoryErrors.Inc()
		s.logger.Error("clear history failed", "session", sessionID, "err", err)
		writeError(rw, http.StatusInternalServerError, "cannot clear history")
		return
	}

	// Expired cookie means the next request starts a fresh conversation.
	s.sessions.Rotate(rw)
	json.NewEncoder(rw).Encode(map[string]string{"status": "history cleared"})
}

// sseEvent is the JSON payload of one SSE message.
type sseEvent struct {
	Content string `json:"content,omitempty"`
	HTML    string `json:"html,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleSSE(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sessionID := s.sessions.GetOrCreate(r, rw)

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	ch := make(chan domain.OutboundMessage, 10)

	s.sseClientsMu.Lock()
	s.sseClients[sessionID] = ch
	s.sseClientsMu.Unlock()
	metrics.ActiveSSESessions.Inc()

	defer func() {
		s.sseClientsMu.Lock()
		if existing, ok := s.sseClients[sessionID]; ok && existing == ch {
			delete(s.sseClients, sessionID)
		}
		s.sseClientsMu.Unlock()
		metrics.ActiveSSESessions.Dec()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			data, _ := json.Marshal(sseEvent{Content: msg.Content, HTML: msg.HTML, Error: msg.Err})
			fmt.Fprintf(rw, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

// resolvePending hands a finished turn to the HTTP request waiting on it.
func (s *Server) resolvePending(msg domain.OutboundMessage) {
	s.pendingMu.Lock()
	ch, ok := s.pending[msg.SessionID]
	s.pendingMu.Unlock()
	if ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

// sendSSE delivers a turn to the SSE stream owning the session, if any.
func (s *Server) sendSSE(msg domain.OutboundMessage) {
	s.sseClientsMu.RLock()
	ch, ok := s.sseClients[msg.SessionID]
	s.sseClientsMu.RUnlock()
	if ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(map[string]string{"error": msg})
}
