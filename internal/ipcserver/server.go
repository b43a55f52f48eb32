// Package ipcserver implements the local stream server that mediates
// between external operators (a TUI, a CLI client) and the event bus: a
// Unix-domain socket (default) or TCP loopback listener speaking
// line-delimited JSON, one frame per line.
package ipcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexuscore/nexuscore/internal/bus"
	"github.com/nexuscore/nexuscore/pkg/models"
)

// inboundFrame is one line of input from a connected client.
type inboundFrame struct {
	Type     string `json:"type"`
	Content  any    `json:"content"`
	ClientID string `json:"clientId,omitempty"`
}

// outboundFrame is one line of output sent to a connected client.
type outboundFrame struct {
	Type      string    `json:"type"`
	Content   any       `json:"content"`
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
}

// helloFrame is the first outbound frame sent on every new connection.
type helloFrame struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// Config configures the IPC server.
type Config struct {
	// Network is "unix" (default) or "tcp".
	Network string
	// Address is a filesystem path for unix sockets, or host:port for tcp.
	Address string
}

type client struct {
	id   string
	conn net.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

// Server accepts connections in parallel but funnels every inbound line
// into the shared bus, which is the system's single serialization point
// (spec.md §5: "the serialization point is the bus, not the socket").
type Server struct {
	cfg    Config
	bus    *bus.Bus
	logger *slog.Logger

	listener net.Listener
	nextID   atomic.Int64

	mu      sync.Mutex
	clients map[string]*client

	unsub      bus.Unsubscribe
	acceptDone chan struct{}
	stopAccept chan struct{}
	stopOnce   sync.Once
}

// New creates a Server bound to b. Call Start to begin accepting
// connections and routing bus events.
func New(cfg Config, b *bus.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Network == "" {
		cfg.Network = "unix"
	}
	return &Server{
		cfg:        cfg,
		bus:        b,
		logger:     logger,
		clients:    make(map[string]*client),
		stopAccept: make(chan struct{}),
	}
}

// Start unlinks any stale unix socket file, binds the listener, begins
// accepting connections, and subscribes the outbound routing handler to
// the bus.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Network == "unix" {
		_ = os.Remove(s.cfg.Address)
	}
	ln, err := net.Listen(s.cfg.Network, s.cfg.Address)
	if err != nil {
		return fmt.Errorf("ipcserver: listen %s %s: %w", s.cfg.Network, s.cfg.Address, err)
	}
	s.listener = ln
	s.acceptDone = make(chan struct{})

	s.unsub = s.bus.Subscribe("*", s.routeOutbound)

	go s.acceptLoop()
	s.logger.Info("ipc server listening", "network", s.cfg.Network, "address", s.cfg.Address)
	return nil
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopAccept:
				return
			default:
				s.logger.Warn("ipc accept error", "error", err)
				return
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	id := fmt.Sprintf("client-%d", s.nextID.Add(1))
	c := &client{id: id, conn: conn, send: make(chan []byte, 64)}

	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()

	s.logger.Info("ipc client connected", "clientId", id)

	hello, _ := json.Marshal(helloFrame{Type: "system:hello", ClientID: id})
	c.send <- hello

	go s.writeLoop(c)
	s.readLoop(c)

	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	c.close()
	s.logger.Info("ipc client disconnected", "clientId", id)
}

func (s *Server) writeLoop(c *client) {
	writer := bufio.NewWriter(c.conn)
	for line := range c.send {
		if _, err := writer.Write(line); err != nil {
			return
		}
		if err := writer.WriteByte('\n'); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) readLoop(c *client) {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame inboundFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			s.logger.Warn("ipc malformed frame", "clientId", c.id, "error", err)
			continue
		}
		sessionID := frame.ClientID
		if sessionID == "" {
			sessionID = c.id
		}
		if _, err := s.bus.Emit(context.Background(), s.translate(frame, sessionID)); err != nil {
			s.logger.Warn("ipc event rejected", "clientId", c.id, "type", frame.Type, "error", err)
		}
	}
}

// translate converts an inbound wire frame into the bus event it
// represents. Most client traffic is a plain chat message, which maps to
// user:input, as does a frame with an empty or unknown type; any other
// valid event type is forwarded with the frame's decoded JSON content
// unchanged.
func (s *Server) translate(frame inboundFrame, sessionID string) models.Event {
	eventType := models.EventUserInput
	if frame.Type != "" && models.EventType(frame.Type).Valid() {
		eventType = models.EventType(frame.Type)
	}

	var content any = frame.Content
	if eventType == models.EventUserInput {
		text, requestID := "", ""
		switch v := frame.Content.(type) {
		case string:
			text = v
		case map[string]any:
			if t, ok := v["text"].(string); ok {
				text = t
			}
			if r, ok := v["requestId"].(string); ok {
				requestID = r
			}
		}
		content = models.UserInputContent{Text: text, RequestID: requestID, ClientID: sessionID}
	}

	return models.Event{
		Type:      eventType,
		Channel:   models.ChannelIPC,
		SessionID: sessionID,
		Content:   content,
	}
}

// routeOutbound forwards bus events in the outbound allow-list to
// connected clients: to the session's own client if one is connected,
// or broadcast to every client otherwise.
func (s *Server) routeOutbound(_ context.Context, event models.Event) error {
	if !event.Type.Outbound() {
		return nil
	}

	frame := outboundFrame{
		Type:      string(event.Type),
		Content:   event.Content,
		ClientID:  event.SessionID,
		Timestamp: event.Timestamp,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("ipcserver: marshal outbound frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if target, ok := s.clients[event.SessionID]; ok {
		s.deliver(target, data)
		return nil
	}
	for _, c := range s.clients {
		s.deliver(c, data)
	}
	return nil
}

func (s *Server) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		s.logger.Warn("ipc client send buffer full, dropping frame", "clientId", c.id)
	}
}

// StopAccepting closes the listener so no new connections are accepted,
// without touching already-connected clients. Safe to call more than
// once; later calls are no-ops.
func (s *Server) StopAccepting() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopAccept)
		if s.listener == nil {
			return
		}
		err = s.listener.Close()
		<-s.acceptDone
	})
	return err
}

// DisconnectAllClients closes every connected client's socket.
func (s *Server) DisconnectAllClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Stop implements the lifecycle shutdown sequence's IPC step:
// stopAccepting then disconnectAllClients, followed by unsubscribing
// from the bus and cleaning up a unix socket file.
func (s *Server) Stop(ctx context.Context) error {
	err := s.StopAccepting()
	s.DisconnectAllClients()
	if s.unsub != nil {
		s.unsub()
	}
	if s.cfg.Network == "unix" {
		_ = os.Remove(s.cfg.Address)
	}
	return err
}

// Name satisfies lifecycle.Component.
func (s *Server) Name() string { return "ipcserver" }
