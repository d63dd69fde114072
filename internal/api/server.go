// Package api provides the HTTP and WebSocket server exposing the
// pipeline's regime state, portfolio snapshots, attribution reports and
// historical bar data (section 6 of the external-interfaces contract).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/regimeflow/regimeflow/internal/attribution"
	"github.com/regimeflow/regimeflow/internal/data"
	"github.com/regimeflow/regimeflow/internal/engine"
	"github.com/regimeflow/regimeflow/internal/plugins"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Config configures the HTTP/WebSocket listener.
type Config struct {
	Host          string
	Port          int
	WebSocketPath string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// DefaultConfig returns sane listener defaults.
func DefaultConfig() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          8080,
		WebSocketPath: "/ws",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
	}
}

// Server is the HTTP/WebSocket API server sitting in front of a running
// pipeline: it serves historical bars, the current/past regime state, the
// portfolio equity curve, the attribution report, and a live event stream
// over WebSocket.
type Server struct {
	mu     sync.RWMutex
	logger *zap.Logger
	config Config

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	pipeline  *engine.Pipeline
	tracker   *attribution.Tracker
	dataStore *data.Store
	plugins   *plugins.Registry
	metricsReg *prometheus.Registry
}

// Client is one connected WebSocket subscriber.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Subs map[string]bool
}

// Message is the envelope for every WebSocket request/response/event.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"` // request, response, event
	Method    string      `json:"method"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewServer builds a Server wired to a running pipeline and its
// collaborators. metricsReg may be nil, in which case /metrics is omitted.
func NewServer(logger *zap.Logger, config Config, pipeline *engine.Pipeline, tracker *attribution.Tracker, dataStore *data.Store, registry *plugins.Registry, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		logger:     logger,
		config:     config,
		router:     mux.NewRouter(),
		clients:    make(map[string]*Client),
		pipeline:   pipeline,
		tracker:    tracker,
		dataStore:  dataStore,
		plugins:    registry,
		metricsReg: metricsReg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleGetHistory).Methods("GET")

	s.router.HandleFunc("/api/v1/regime/current", s.handleCurrentRegime).Methods("GET")
	s.router.HandleFunc("/api/v1/regime/history", s.handleRegimeHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/regime/transitions", s.handleTransitions).Methods("GET")

	s.router.HandleFunc("/api/v1/portfolio/snapshot", s.handlePortfolioSnapshot).Methods("GET")
	s.router.HandleFunc("/api/v1/portfolio/equity-curve", s.handleEquityCurve).Methods("GET")

	s.router.HandleFunc("/api/v1/attribution/report", s.handleAttributionReport).Methods("GET")
	s.router.HandleFunc("/api/v1/attribution/report.csv", s.handleAttributionReportCSV).Methods("GET")

	s.router.HandleFunc("/api/v1/plugins", s.handlePlugins).Methods("GET")

	if s.metricsReg != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metricsReg, promhttp.HandlerOpts{})).Methods("GET")
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down, closing all WebSocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the CORS-wrapped router for use in tests via
// httptest.NewServer without binding a real listener.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// EventSink returns an engine.MetricsSink that sends regime transitions to
// every connected WebSocket client, and portfolio snapshots, fills, order
// rejections and regime states to the clients subscribed to the
// "portfolio", "fills", "rejections" and "regime" channels. Wire it into
// engine.MultiMetricsSink alongside the attribution tracker and the
// metrics collector at composition time.
func (s *Server) EventSink() engine.MetricsSink {
	return broadcastSink{s}
}

func (s *Server) broadcast(msg *Message) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		select {
		case client.Send <- msgBytes:
		default:
		}
	}
}

func (s *Server) broadcastToSubscribers(channel string, msg *Message) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		if client.Subs[channel] {
			select {
			case client.Send <- msgBytes:
			default:
			}
		}
	}
}

func newEventMessage(method string, payload interface{}) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      "event",
		Method:    method,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}
