// ABOUTME: Websocket monitor broadcasting pipeline status and events
// ABOUTME: One writer goroutine per client; slow clients lose messages
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Path is where the websocket is served.
	Path = "/monitor"

	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	clientBuffer  = 64
	shutdownWait  = 5 * time.Second
)

// Message types.
const (
	TypeHello   = "hello"
	TypeStatus  = "status"
	TypeEvent   = "event"
	TypeCommand = "command"
)

// Envelope is every message on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Session string          `json:"session,omitempty"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is the payload of TypeEvent.
type Event struct {
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Command is the payload a client sends with TypeCommand.
type Command struct {
	Action string  `json:"action"` // pause, resume, flush, volume, mute
	Value  float64 `json:"value,omitempty"`
}

// Hello is sent to each client on connect.
type Hello struct {
	ClientID string `json:"client_id"`
	Product  string `json:"product"`
	Version  string `json:"version"`
}

// Config configures a Monitor.
type Config struct {
	Product   string
	Version   string
	Logger    *slog.Logger
	OnCommand func(Command)
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Monitor fans out messages to connected clients.
type Monitor struct {
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	clients  map[string]*client
	session  string
	closed   bool
	wg       sync.WaitGroup
	dropped  uint64
	lastSent []byte
}

// New creates a monitor.
func New(config Config) *Monitor {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Monitor{
		config: config,
		logger: config.Logger.With(slog.String("component", "monitor")),
		upgrader: websocket.Upgrader{
			// Local tool; browsers on any origin may watch.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		session: uuid.NewString(),
	}
}

// NewSession starts a new session id, typically per opened stream.
func (m *Monitor) NewSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = uuid.NewString()
	return m.session
}

// Session returns the current session id.
func (m *Monitor) Session() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Clients returns the number of connected clients.
func (m *Monitor) Clients() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Dropped returns how many messages slow clients missed.
func (m *Monitor) Dropped() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropped
}

// Handler returns the HTTP handler serving Path.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, m.handleWebSocket)
	return mux
}

// Serve runs an HTTP server on ln until ctx is done.
func (m *Monitor) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: writeDeadline}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	m.logger.Info("monitor listening", "addr", ln.Addr().String(), "path", Path)

	select {
	case err := <-errCh:
		m.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("monitor server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	m.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		m.logger.Warn("monitor shutdown", "error", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is done.
func (m *Monitor) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor listen: %w", err)
	}
	return m.Serve(ctx, ln)
}

// Close disconnects every client and refuses new ones.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, c := range m.clients {
		close(c.send)
		delete(m.clients, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// PublishStatus broadcasts a status payload.
func (m *Monitor) PublishStatus(payload any) error {
	return m.publish(TypeStatus, payload)
}

// PublishEvent broadcasts a named event.
func (m *Monitor) PublishEvent(name string, fields map[string]any) error {
	return m.publish(TypeEvent, Event{Name: name, Fields: fields})
}

func (m *Monitor) publish(typ string, payload any) error {
	data, err := m.encode(typ, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if typ == TypeStatus {
		m.lastSent = data
	}
	for _, c := range m.clients {
		select {
		case c.send <- data:
		default:
			m.dropped++
		}
	}
	return nil
}

func (m *Monitor) encode(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	data, err := json.Marshal(Envelope{Type: typ, Session: m.Session(), Time: time.Now(), Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return data, nil
}

// handleWebSocket handles WebSocket connections
func (m *Monitor) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientBuffer)}
	hello, err := m.encode(TypeHello, Hello{ClientID: c.id, Product: m.config.Product, Version: m.config.Version})
	if err != nil {
		conn.Close()
		return
	}
	c.send <- hello

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	if m.lastSent != nil {
		c.send <- m.lastSent
	}
	m.clients[c.id] = c
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("monitor client connected", "client", c.id, "remote", r.RemoteAddr)
	go m.writer(c)
	m.reader(c)
}

// reader handles client commands until the connection ends.
func (m *Monitor) reader(c *client) {
	defer func() {
		m.mu.Lock()
		if _, ok := m.clients[c.id]; ok {
			delete(m.clients, c.id)
			close(c.send)
		}
		m.mu.Unlock()
		m.logger.Info("monitor client disconnected", "client", c.id)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("monitor read", "client", c.id, "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type != TypeCommand {
			m.logger.Debug("monitor: ignoring message", "client", c.id)
			continue
		}
		var cmd Command
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			m.logger.Debug("monitor: bad command", "client", c.id, "error", err)
			continue
		}
		m.logger.Info("monitor command", "client", c.id, "action", cmd.Action)
		if m.config.OnCommand != nil {
			m.config.OnCommand(cmd)
		}
	}
}

// writer sends queued messages and keepalive pings.
func (m *Monitor) writer(c *client) {
	defer m.wg.Done()
	defer c.conn.Close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.logger.Debug("monitor write", "client", c.id, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}
