// Package dashboard implements the HTTP API and WebSocket feed for live
// miner stats
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/opensyria/cryptonight-miner/miner"
)

// Config holds dashboard configuration
type Config struct {
	ListenAddr     string
	Pool           *miner.Pool
	Logger         *slog.Logger
	UpdateInterval time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		UpdateInterval: 2 * time.Second,
		Logger:         slog.Default(),
	}
}

// Server is the dashboard HTTP server
type Server struct {
	cfg      Config
	pool     *miner.Pool
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader

	// WebSocket clients
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex
	broadcast chan interface{}

	// Solution notifications can burst far faster than any client cares
	// to render.
	limiter *rate.Limiter

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new dashboard server
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:    cfg,
		pool:   cfg.Pool,
		logger: cfg.Logger.With("component", "dashboard"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan interface{}, 100),
		limiter:   rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the dashboard server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go s.statsPusher()

	s.logger.Info("Starting dashboard server", "addr", s.cfg.ListenAddr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Dashboard server error", "err", err)
		}
	}()

	return nil
}

// Stop stops the dashboard server
func (s *Server) Stop() {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.server != nil {
		s.server.Shutdown(ctx)
	}

	s.clientsMu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clientsMu.Unlock()

	s.wg.Wait()
	s.logger.Info("Dashboard server stopped")
}

// NotifySolution pushes a found-solution event to connected clients,
// rate-limited so a lucky streak cannot flood them.
func (s *Server) NotifySolution(sol miner.Solution) {
	if !s.limiter.Allow() {
		return
	}
	select {
	case s.broadcast <- map[string]interface{}{
		"type":      "solution",
		"nonce":     sol.Nonce,
		"pool_id":   sol.PoolID,
		"timestamp": time.Now().Unix(),
	}:
	default:
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "err", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	s.logger.Info("WebSocket client connected", "remote", conn.RemoteAddr())

	conn.WriteJSON(map[string]interface{}{
		"type": "stats",
		"data": s.snapshot(),
	})

	// Read loop (for pings/pongs)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, conn)
			s.clientsMu.Unlock()
			conn.Close()
			s.logger.Info("WebSocket client disconnected", "remote", conn.RemoteAddr())
		}()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}()
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			s.clientsMu.RLock()
			for conn := range s.clients {
				if err := conn.WriteJSON(msg); err != nil {
					s.logger.Debug("WebSocket write failed", "err", err)
				}
			}
			s.clientsMu.RUnlock()
		}
	}
}

func (s *Server) statsPusher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.broadcast <- map[string]interface{}{
				"type":      "stats",
				"data":      s.snapshot(),
				"timestamp": time.Now().Unix(),
			}
		}
	}
}

func (s *Server) snapshot() miner.Snapshot {
	if s.pool == nil {
		return miner.Snapshot{}
	}
	return s.pool.Snapshot()
}
