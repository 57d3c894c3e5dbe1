// Package bridge exposes a Pod session to host applications over a
// WebSocket endpoint. Commands arrive as JSON method calls; the session's
// three event streams (status, scan results, payloads) fan out to every
// connected client. Payload bytes travel base64-encoded, the standard
// JSON encoding for byte slices.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/podlink/internal/groutine"
	"github.com/srg/podlink/session"
)

// Event is one outbound frame to a bridge client.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event types.
const (
	EventStatus     = "status"
	EventScanResult = "scanResult"
	EventPayload    = "payload"
	EventError      = "error"
)

// Command is one inbound frame from a bridge client.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Command methods.
const (
	MethodStartScan      = "startScan"
	MethodStopScan       = "stopScan"
	MethodConnect        = "connect"
	MethodDisconnect     = "disconnect"
	MethodWriteCommand   = "writeCommand"
	MethodDownloadFile   = "downloadFile"
	MethodCancelDownload = "cancelDownload"
)

type connectParams struct {
	Address string `json:"address"`
}

type writeCommandParams struct {
	Data []byte `json:"data"`
}

type downloadFileParams struct {
	Filename     string `json:"filename"`
	FilterStart  int64  `json:"filterStart,omitempty"`
	FilterEnd    int64  `json:"filterEnd,omitempty"`
	TotalFiles   int    `json:"totalFiles,omitempty"`
	CurrentIndex int    `json:"currentIndex,omitempty"`
}

type scanResultData struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	RSSI int    `json:"rssi"`
}

// ServerOptions configures the bridge server.
type ServerOptions struct {
	// WriteTimeout bounds a single frame write to one client; a slower
	// client is dropped.
	WriteTimeout time.Duration
}

// DefaultServerOptions returns the standard bridge settings.
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		WriteTimeout: 5 * time.Second,
	}
}

// Server bridges one Session to any number of WebSocket clients.
type Server struct {
	logger *logrus.Logger
	sess   *session.Session
	opts   ServerOptions

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
}

// NewServer creates a bridge server around an existing session. Call
// Handler to mount it and Pump to start event fan-out.
func NewServer(sess *session.Session, logger *logrus.Logger, opts *ServerOptions) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultServerOptions()
	}

	return &Server{
		logger:  logger,
		sess:    sess,
		opts:    *opts,
		clients: make(map[*websocket.Conn]*sync.Mutex),
		upgrader: websocket.Upgrader{
			// The bridge binds to loopback; host apps connect locally.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the WebSocket upgrade handler, mountable on any mux.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// Pump forwards session events to all connected clients until ctx ends
// or the session closes its streams.
func (s *Server) Pump(ctx context.Context) {
	status := s.sess.Status()
	scans := s.sess.ScanResults()
	payloads := s.sess.Payloads()

	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-status:
			if !ok {
				return
			}
			s.Broadcast(Event{Type: EventStatus, Data: text})
		case r, ok := <-scans:
			if !ok {
				return
			}
			s.Broadcast(Event{Type: EventScanResult, Data: scanResultData{
				Name: r.Name,
				ID:   r.ID,
				RSSI: r.RSSI,
			}})
		case p, ok := <-payloads:
			if !ok {
				return
			}
			s.Broadcast(Event{Type: EventPayload, Data: p})
		}
	}
}

// Broadcast sends one event to every connected client, dropping clients
// whose writes fail or time out.
func (s *Server) Broadcast(event Event) {
	s.mu.Lock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(s.clients))
	for conn, wmu := range s.clients {
		clients[conn] = wmu
	}
	s.mu.Unlock()

	for conn, wmu := range clients {
		if err := s.writeEvent(conn, wmu, event); err != nil {
			s.logger.WithError(err).Debug("Dropping bridge client after failed write")
			s.removeClient(conn)
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, wmu *sync.Mutex, event Event) error {
	wmu.Lock()
	defer wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return conn.WriteJSON(event)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	wmu := &sync.Mutex{}
	s.mu.Lock()
	s.clients[conn] = wmu
	s.mu.Unlock()

	s.logger.WithField("remote", conn.RemoteAddr().String()).Info("Bridge client connected")

	// The request context dies when this handler returns; the hijacked
	// connection outlives it.
	groutine.Go(nil, "bridge-client", func(ctx context.Context) {
		defer s.removeClient(conn)
		s.readLoop(ctx, conn, wmu)
	})
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, wmu *sync.Mutex) {
	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).Debug("Bridge client read failed")
			}
			return
		}

		if err := s.dispatch(ctx, cmd); err != nil {
			s.logger.WithError(err).WithField("method", cmd.Method).Warn("Bridge command failed")
			_ = s.writeEvent(conn, wmu, Event{Type: EventError, Data: err.Error()})
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Method {
	case MethodStartScan:
		s.sess.StartScan(ctx)
		return nil

	case MethodStopScan:
		s.sess.StopScan()
		return nil

	case MethodConnect:
		var p connectParams
		if err := unmarshalParams(cmd.Params, &p); err != nil {
			return err
		}
		return s.sess.Connect(ctx, p.Address)

	case MethodDisconnect:
		return s.sess.Disconnect()

	case MethodWriteCommand:
		var p writeCommandParams
		if err := unmarshalParams(cmd.Params, &p); err != nil {
			return err
		}
		s.sess.WriteCommand(p.Data)
		return nil

	case MethodDownloadFile:
		var p downloadFileParams
		if err := unmarshalParams(cmd.Params, &p); err != nil {
			return err
		}
		return s.sess.DownloadFile(session.DownloadRequest{
			Filename:     p.Filename,
			FilterStart:  p.FilterStart,
			FilterEnd:    p.FilterEnd,
			TotalFiles:   p.TotalFiles,
			CurrentIndex: p.CurrentIndex,
		})

	case MethodCancelDownload:
		return s.sess.CancelDownload()

	default:
		return fmt.Errorf("unknown method %q", cmd.Method)
	}
}

func unmarshalParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()

	if ok {
		_ = conn.Close()
	}
}

// ClientCount reports the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
