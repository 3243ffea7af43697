// Package dashboard serves live pipeline events over WebSocket, plus health
// and Prometheus endpoints.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MessageType names the event carried by a Message.
type MessageType string

const (
	MessageTypeBatchIndexed      MessageType = "batch_indexed"
	MessageTypeWatermarkAdvanced MessageType = "watermark_advanced"
	MessageTypePollComplete      MessageType = "poll_complete"
	MessageTypeRebuildComplete   MessageType = "rebuild_complete"

	// MessageTypeStatus is always the first message on a new connection.
	MessageTypeStatus MessageType = "status"
)

// Message is one frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientQueue is the number of frames buffered per client. A client that
// falls this far behind is disconnected.
const ClientQueue = 64

const writeTimeout = 5 * time.Second

// Config holds server configuration. Port 0 picks a free port.
type Config struct {
	Host     string
	Port     int
	Gatherer prometheus.Gatherer // default prometheus.DefaultGatherer
	Logger   *log.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server fans pipeline events out to WebSocket clients.
type Server struct {
	addr     string
	gatherer prometheus.Gatherer
	logger   *log.Logger
	started  time.Time

	mu       sync.Mutex
	clients  map[*client]struct{}
	status   func() Message
	listener net.Listener
	http     *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server; call Start to listen.
func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		gatherer: config.Gatherer,
		logger:   config.Logger,
		clients:  make(map[*client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.handleIndex)

	s.mu.Lock()
	s.listener = ln
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.started = time.Now()
	srv := s.http
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Serve failed: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	srv := s.http
	for c := range s.clients {
		s.dropLocked(c, websocket.StatusGoingAway, "server shutting down")
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shut down dashboard: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	return err
}

// Broadcast encodes msg once and queues it for every client. It never
// blocks the caller.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			s.logger.Printf("Dropping client that is %d messages behind", ClientQueue)
			s.dropLocked(c, websocket.StatusPolicyViolation, "too slow")
		}
	}
}

func (s *Server) setStatus(fn func() Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = fn
}

// dropLocked unregisters c and closes its queue; the writer then closes
// the connection. s.mu must be held.
func (s *Server) dropLocked(c *client, code websocket.StatusCode, reason string) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	go c.conn.Close(code, reason)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, ClientQueue)}

	// Queue the status before registering so no event can overtake it.
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	welcome := Message{Type: MessageTypeStatus, Timestamp: time.Now()}
	if status != nil {
		welcome = status()
	}
	if frame, err := json.Marshal(welcome); err == nil {
		c.send <- frame
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.writeLoop(c)
}

// writeLoop drains c.send until the queue is closed, the peer goes away or
// the server stops. Client frames are read and discarded by CloseRead.
func (s *Server) writeLoop(c *client) {
	ctx := c.conn.CloseRead(s.ctx)
	defer func() {
		s.mu.Lock()
		s.dropLocked(c, websocket.StatusNormalClosure, "")
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

type health struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Uptime  string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health{
		Status:  "ok",
		Clients: s.ClientCount(),
		Uptime:  time.Since(started).Round(time.Second).String(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "catalog-etl\n\nevents   ws://%s/ws\nhealth   /health\nmetrics  /metrics\n", r.Host)
}

// GetAddr returns the bound address once started, else the configured one.
func (s *Server) GetAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
