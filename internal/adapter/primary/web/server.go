package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tinnicap/internal/adapter/dto"
	"tinnicap/internal/adapter/secondary/history"
	"tinnicap/internal/adapter/secondary/notify"
	"tinnicap/internal/domain"
	"tinnicap/internal/logging"
	"tinnicap/internal/usecase"
)

// HistoryReader is the read side of the violation history.
type HistoryReader interface {
	Recent(ctx context.Context, stableID string, limit int) ([]history.Record, error)
}

// Server is a primary adapter that exposes HTTP API + UI.
// It depends on the use case (primary port).
type Server struct {
	usecase  usecase.MonitorUseCase
	history  HistoryReader
	server   *http.Server
	upgrader websocket.Upgrader
}

// Option customizes the server.
type Option func(*Server)

// WithHistory enables GET /api/history.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// NewServer creates the HTTP server bound to addr.
func NewServer(uc usecase.MonitorUseCase, addr string, opts ...Option) *Server {
	srv := &Server{
		usecase: uc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(srv)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices", srv.handleDevices)
	mux.HandleFunc("GET /api/settings", srv.handleSettings)
	mux.HandleFunc("PUT /api/mode", srv.handleMode)
	mux.HandleFunc("PUT /api/cooldown", srv.handleCooldown)
	mux.HandleFunc("GET /api/limits", srv.handleLimits)
	mux.HandleFunc("PUT /api/limits/{id...}", srv.handleSetLimit)
	mux.HandleFunc("DELETE /api/limits/{id...}", srv.handleRemoveLimit)
	mux.HandleFunc("POST /api/enforce", srv.handleEnforce)
	mux.HandleFunc("GET /api/history", srv.handleHistory)
	mux.HandleFunc("GET /api/events", srv.handleEvents)
	mux.HandleFunc("GET /{$}", srv.handleRoot)

	srv.server = &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Handler returns the root handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start blocks and serves HTTP traffic.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	logging.Infof("web: listening on http://%s", ln.Addr())
	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, dto.FromStatuses(s.usecase.DeviceStatuses()))
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, settingsView(s.usecase.Settings()))
}

type modePayload struct {
	Mode string `json:"mode"`
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.usecase.SetMode(mode); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.persist()
	respondJSON(w, http.StatusOK, settingsView(s.usecase.Settings()))
}

type cooldownPayload struct {
	Seconds float64 `json:"seconds"`
}

func (s *Server) handleCooldown(w http.ResponseWriter, r *http.Request) {
	var req cooldownPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.usecase.SetCooldown(time.Duration(req.Seconds * float64(time.Second))); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.persist()
	respondJSON(w, http.StatusOK, settingsView(s.usecase.Settings()))
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.usecase.Limits())
}

// limitPayload accepts either a fraction or a whole percentage.
type limitPayload struct {
	Limit   *float64 `json:"limit"`
	Percent *float64 `json:"percent"`
}

type limitView struct {
	ID     string     `json:"id"`
	Limit  float64    `json:"limit"`
	Notice dto.Notice `json:"notice"`
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req limitPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	fraction := domain.DefaultLimitSuggestion
	switch {
	case req.Limit != nil:
		fraction = *req.Limit
	case req.Percent != nil:
		fraction = *req.Percent / 100
	}
	stored, err := s.usecase.SetLimit(id, fraction)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.persist()
	respondJSON(w, http.StatusOK, limitView{
		ID:     id,
		Limit:  stored,
		Notice: notify.LimitSetNotice(s.displayName(id), stored),
	})
}

func (s *Server) handleRemoveLimit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.usecase.GetLimit(id); !ok {
		respondError(w, http.StatusNotFound, "no limit for "+id)
		return
	}
	if err := s.usecase.RemoveLimit(id); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.persist()
	respondJSON(w, http.StatusOK, limitView{ID: id, Notice: notify.LimitRemovedNotice(s.displayName(id))})
}

func (s *Server) handleEnforce(w http.ResponseWriter, r *http.Request) {
	s.usecase.Tick()
	respondJSON(w, http.StatusOK, dto.FromStatuses(s.usecase.DeviceStatuses()))
}

type historyView struct {
	EventID   string    `json:"eventId"`
	At        time.Time `json:"at"`
	DeviceID  string    `json:"deviceId"`
	Name      string    `json:"name"`
	Attempted float64   `json:"attempted"`
	Limit     float64   `json:"limit"`
	Mode      string    `json:"mode"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.history.Recent(r.Context(), r.URL.Query().Get("device"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]historyView, 0, len(records))
	for _, rec := range records {
		out = append(out, historyView{
			EventID:   rec.EventID,
			At:        rec.At,
			DeviceID:  rec.StableID,
			Name:      rec.Name,
			Attempted: rec.Attempted,
			Limit:     rec.Limit,
			Mode:      string(rec.Mode),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// handleEvents streams engine events over a websocket until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debugf("web: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	sub := s.usecase.Subscribe(32)
	defer sub.Close()

	// The read loop only exists to notice the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(dto.FromEvent(ev)); err != nil {
				if !isConnectionClosedError(err) {
					logging.Warnf("web: websocket write: %v", err)
				}
				return
			}
		}
	}
}

func isConnectionClosedError(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func (s *Server) displayName(id string) string {
	for _, d := range s.usecase.GetSnapshot() {
		if d.StableID == id {
			return d.Name
		}
	}
	return id
}

func (s *Server) persist() {
	if err := s.usecase.Persist(); err != nil {
		logging.Warnf("web: persist settings: %v", err)
	}
}

type settingsResponse struct {
	dto.Settings
	DefaultLimit float64 `json:"defaultLimit"`
}

func settingsView(st domain.Settings) settingsResponse {
	return settingsResponse{Settings: dto.FromSettings(st), DefaultLimit: domain.DefaultLimitSuggestion}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warnf("encode JSON: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debugf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
