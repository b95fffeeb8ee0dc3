// Package dashboard serves a live WebSocket feed of sync activity.
//
// Clients connect to /ws and first receive a stats message. After that they
// receive every sync event the Handler observes and a fresh stats message
// whenever local data changed. /health reports the number of connected
// clients.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	// queueSize bounds messages waiting for fan-out.
	queueSize = 100
	// clientBuffer bounds frames waiting for one client. A client that
	// falls further behind is disconnected.
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

// Config holds server configuration
type Config struct {
	// Address to listen on (default: "127.0.0.1:8080"). Port 0 picks a free port.
	Addr string

	// Stats feeds the first message of every connection (optional)
	Stats StatsFunc

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{Addr: "127.0.0.1:8080"}
}

// client is one connected WebSocket. Frames are written by its own
// goroutine so a slow client never holds up the others.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server accepts dashboard clients and fans messages out to them.
type Server struct {
	addr   string
	stats  StatsFunc
	logger *zap.Logger

	ln      net.Listener
	httpSrv *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}

	queue chan Message

	// base is cancelled by Stop and bounds every client operation.
	base     context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// NewServer creates a dashboard server. A nil config uses DefaultConfig.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := config.Addr
	if addr == "" {
		addr = DefaultConfig().Addr
	}

	base, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		stats:   config.Stats,
		logger:  logger.Named("dashboard"),
		clients: make(map[*client]struct{}),
		queue:   make(chan Message, queueSize),
		base:    base,
		cancel:  cancel,
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(2)
	go s.fanout()
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", zap.Stringer("addr", ln.Addr()))
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard serve failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the server down. It is safe to
// call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping dashboard")
		s.cancel()

		s.mu.Lock()
		clients := make([]*client, 0, len(s.clients))
		for c := range s.clients {
			delete(s.clients, c)
			close(c.send)
			clients = append(clients, c)
		}
		s.mu.Unlock()
		for _, c := range clients {
			_ = c.conn.Close(websocket.StatusGoingAway, "dashboard shutting down")
		}

		if s.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				s.stopErr = fmt.Errorf("dashboard shutdown: %w", err)
			}
		}
		s.wg.Wait()
	})
	return s.stopErr
}

// Run starts the server and stops it when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Broadcast queues msg for every client. It never blocks: when the queue is
// full msg is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.queue <- msg:
	case <-s.base.Done():
	default:
		s.logger.Warn("dashboard queue full, dropping message", zap.String("type", string(msg.Type)))
	}
}

// fanout encodes queued messages once and hands them to every client.
func (s *Server) fanout() {
	defer s.wg.Done()
	for {
		select {
		case <-s.base.Done():
			return
		case msg := <-s.queue:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to encode message", zap.Error(err))
				continue
			}

			var slow []*client
			s.mu.Lock()
			for c := range s.clients {
				select {
				case c.send <- data:
				default:
					slow = append(slow, c)
				}
			}
			s.mu.Unlock()
			for _, c := range slow {
				s.logger.Warn("dropping slow dashboard client")
				s.drop(c, websocket.StatusPolicyViolation, "too slow")
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// Stats go out before the client is registered so they are always the
	// first frame.
	if err := s.writeFrame(conn, s.welcome(r.Context())); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	s.mu.Lock()
	if s.base.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "dashboard shutting down")
		return
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()
	s.logger.Info("client connected", zap.Int("clients", n))

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) welcome(ctx context.Context) []byte {
	var stats any
	if s.stats != nil {
		st, err := s.stats(ctx)
		if err != nil {
			s.logger.Warn("failed to compute stats", zap.Error(err))
		} else {
			stats = st
		}
	}
	msg, err := newMessage(MessageTypeStats, time.Now(), stats)
	if err != nil {
		msg = Message{Type: MessageTypeStats, Timestamp: time.Now()}
	}
	data, _ := json.Marshal(msg)
	return data
}

func (s *Server) writeFrame(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.base, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) writePump(c *client) {
	defer s.wg.Done()
	for data := range c.send {
		if err := s.writeFrame(c.conn, data); err != nil {
			s.logger.Debug("write to client failed", zap.Error(err))
			s.drop(c, websocket.StatusInternalError, "")
			return
		}
	}
}

// readPump discards client frames; its error is how a disconnect is seen.
func (s *Server) readPump(c *client) {
	defer s.wg.Done()
	for {
		if _, _, err := c.conn.Read(s.base); err != nil {
			s.drop(c, websocket.StatusNormalClosure, "")
			return
		}
	}
}

// drop unregisters c and closes its connection, once.
func (s *Server) drop(c *client, code websocket.StatusCode, reason string) {
	s.mu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c)
	close(c.send)
	n := len(s.clients)
	s.mu.Unlock()

	_ = c.conn.Close(code, reason)
	s.logger.Info("client disconnected", zap.Int("clients", n))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}{"ok", s.ClientCount()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, indexPage, r.Host)
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>cpg sync</title></head>
<body>
<h1>cpg sync</h1>
<p>Connect a WebSocket client to <code>ws://%[1]s/ws</code> for sync events and graph statistics.</p>
<p><a href="/health">/health</a></p>
</body>
</html>`

// GetAddr returns the bound address once started, else the configured one.
func (s *Server) GetAddr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
