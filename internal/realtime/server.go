// Package realtime accepts client connections and multiplexes session status
// frames and screenshot frames onto each of them.
package realtime

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"deskpilot/internal/capture"
	"deskpilot/internal/session"
	"deskpilot/internal/store"
	"deskpilot/internal/wire"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBufSize   = 256
)

// Fixed reply texts for protocol-level problems. Decode and dispatch errors
// are answered, never used as a reason to drop the connection.
const (
	msgInvalidJSON    = "Invalid message format. Please send JSON."
	msgMissingType    = "Message must include a type"
	msgUnknownType    = "Unknown message type: "
	msgCaptureFailure = "Failed to capture screenshot"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server owns the set of connected clients and routes their commands to the
// session guard, the capture manager, and the prompt store.
type Server struct {
	guard     *session.Guard
	captures  *capture.Manager
	prompts   *store.Store
	staticDir string

	clientsMu sync.RWMutex
	clients   map[*client]bool
}

type outbound struct {
	msgType int
	data    []byte
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan outbound
	server *Server

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a realtime server.
func New(guard *session.Guard, captures *capture.Manager, prompts *store.Store, staticDir string) *Server {
	return &Server{
		guard:     guard,
		captures:  captures,
		prompts:   prompts,
		staticDir: staticDir,
		clients:   make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("POST /api/prompts", s.handleCreatePrompt)
	mux.HandleFunc("GET /api/prompts", s.handleListPrompts)
	mux.HandleFunc("GET /api/prompts/{id}", s.handleGetPrompt)
	mux.HandleFunc("PATCH /api/prompts/{id}/status", s.handleUpdatePromptStatus)

	// Static file serving.
	if s.staticDir != "" {
		fileServer := http.FileServer(http.Dir(s.staticDir))
		mux.Handle("/", fileServer)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan outbound, sendBufSize),
		server: s,
		closed: make(chan struct{}),
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	// A joining or rejoining client learns the current session status
	// immediately, so it can offer to resume.
	snap := s.guard.Snapshot()
	if snap.ActivePromptID != 0 && snap.Step != session.StepIdle && snap.Step != session.StepError {
		c.sendStatus(wire.StatusSuccess, wire.MsgInProgress, snap.ActivePromptID)
	}

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes queued frames and runs the keepalive heartbeat. A peer
// that answers no ping within the read deadline trips the readPump and the
// connection is torn down as stale.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(msg.msgType, msg.data); err != nil {
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient tears down a disconnected client: its capture loop first, then
// its registration. If it was the last connection, the session is forgotten
// entirely: nobody is watching anymore.
func (s *Server) removeClient(c *client) {
	c.closeOnce.Do(func() { close(c.closed) })
	s.captures.Detach(c.id)

	s.clientsMu.Lock()
	delete(s.clients, c)
	remaining := len(s.clients)
	s.clientsMu.Unlock()

	if remaining == 0 {
		s.captures.DetachAll()
		s.guard.Reset()
	}
}

var errClientClosed = errors.New("client closed")

// enqueue hands a frame to the write pump. Frames are best-effort: a full
// buffer drops the frame rather than blocking the producer, a newer one
// supersedes it anyway.
func (c *client) enqueue(msgType int, data []byte) error {
	select {
	case <-c.closed:
		return errClientClosed
	default:
	}
	select {
	case c.send <- outbound{msgType: msgType, data: data}:
	case <-c.closed:
		return errClientClosed
	default:
	}
	return nil
}

func (c *client) sendStatus(severity, message string, promptID int64) {
	c.enqueue(websocket.TextMessage, wire.EncodeStatus(severity, message, promptID))
}

func (c *client) sendBinary(frame []byte) error {
	return c.enqueue(websocket.BinaryMessage, frame)
}

// handleMessage decodes and dispatches one client text frame.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := wire.ParseInbound(raw)
	if err != nil {
		c.sendStatus(wire.StatusError, msgInvalidJSON, 0)
		return
	}
	if msg.Type == "" {
		c.sendStatus(wire.StatusError, msgMissingType, 0)
		return
	}

	switch msg.Type {
	case wire.TypeCommand:
		// The drive suspends for bounded delays between synthetic actions;
		// run it off the read loop so this connection keeps reading.
		go s.runCommand(c, msg)
	case wire.TypeAccept:
		go s.runAccept(c)
	default:
		c.sendStatus(wire.StatusError, msgUnknownType+msg.Type, 0)
	}
}

// runCommand submits one command to the guard and, when the session reaches
// the awaiting-result step, attaches this connection's capture loop.
func (s *Server) runCommand(c *client, msg *wire.Inbound) {
	req := session.SubmitRequest{
		PromptID:    msg.PromptID,
		Message:     msg.Message,
		IsNewPrompt: msg.IsNewPrompt,
	}

	// The first non-resume event means the prompt was admitted and now owns
	// the session; record it as processing before any synthetic input runs,
	// so a drive that fails partway still shows the prompt was attempted.
	marked := false
	res, err := s.guard.Submit(context.Background(), req, func(ev session.Event) {
		if !marked && !ev.Error && ev.Message != wire.MsgResuming {
			marked = true
			s.markPrompt(msg.PromptID, store.StatusProcessing)
		}
		severity := wire.StatusSuccess
		if ev.Error {
			severity = wire.StatusError
		}
		c.sendStatus(severity, ev.Message, ev.PromptID)
	})
	if errors.Is(err, session.ErrSessionBusy) {
		c.sendStatus(wire.StatusError, wire.MsgBusy, 0)
		return
	}
	if err != nil {
		// The guard already emitted the error status frame.
		log.Printf("connection %s: command for prompt %d failed: %v", c.id, msg.PromptID, err)
		return
	}

	if res.Step != session.StepAwaitingResult {
		return
	}

	// On resume with a previous capture on record, send one screenshot
	// right away instead of waiting out a full interval.
	immediate := res.Resumed && !res.LastCaptureAt.IsZero()
	s.captures.Attach(c.id, immediate, capture.Sink{
		SendFrame: c.sendBinary,
		SendError: func(error) {
			c.sendStatus(wire.StatusError, msgCaptureFailure, 0)
		},
		OnCaptured: s.guard.RecordCapture,
	})
}

// runAccept commits the pending result, stops all capture loops, and resets
// the session.
func (s *Server) runAccept(c *client) {
	promptID, err := s.guard.Accept(context.Background())
	s.captures.DetachAll()

	if err != nil {
		c.sendStatus(wire.StatusError, "Failed to execute command: "+err.Error(), 0)
		return
	}

	if promptID != 0 {
		s.markPrompt(promptID, store.StatusCompleted)
	}
	c.sendStatus(wire.StatusSuccess, wire.MsgAccepted, 0)
}

// markPrompt records a status change; a missing record is logged, not fatal.
func (s *Server) markPrompt(id int64, status store.Status) {
	if s.prompts == nil || id == 0 {
		return
	}
	if _, err := s.prompts.UpdateStatus(id, status); err != nil {
		log.Printf("prompt %d: mark %s: %v", id, status, err)
	}
}
