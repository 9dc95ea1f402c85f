package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"sync"

	ghostline "github.com/velvetfork/ghostline"
	"github.com/velvetfork/ghostline/document"
	"github.com/velvetfork/ghostline/engine"
)

// Completer processes a completion request and returns a result.
type Completer interface {
	Complete(ctx context.Context, req engine.Request) ghostline.Result
	HandleShown(uri string, cand ghostline.Candidate)
	HandleAccept(candID string)
	HandlePartialAccept(candID string, accepted int)
	RejectLastShown()
	ClearCache()
	Close()
}

// sessionEntry tracks a cancellable in-flight request for a session.
type sessionEntry struct {
	requestID int
	cancel    context.CancelFunc
}

// Server listens on a Unix domain socket for completion requests.
type Server struct {
	listener net.Listener
	sockPath string
	engine   Completer

	mu       sync.Mutex
	sessions map[string]sessionEntry
}

// NewServer creates an IPC server bound to the given socket path, backed by
// a completion engine built from the on-disk config.
func NewServer(sockPath string) (*Server, error) {
	cfg, err := ghostline.LoadConfig()
	if err != nil {
		return nil, err
	}
	eng := engine.New(cfg, newClient(cfg))
	return NewServerWithCompleter(sockPath, eng)
}

// NewServerWithCompleter creates an IPC server with a custom Completer.
func NewServerWithCompleter(sockPath string, completer Completer) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener: listener,
		sockPath: sockPath,
		engine:   completer,
		sessions: make(map[string]sessionEntry),
	}, nil
}

// Serve accepts connections and handles requests.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the server, the engine, and removes the socket file.
func (s *Server) Close() {
	s.engine.Close()
	s.listener.Close()
	os.Remove(s.sockPath)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		return
	}

	raw := scanner.Bytes()
	slog.Debug("request", "data", string(raw))

	// Check if this is a lifecycle event (has "type":"event" field)
	var evReq ghostline.EventRequest
	if err := json.Unmarshal(raw, &evReq); err == nil && evReq.Type == "event" {
		s.handleEventRequest(conn, &evReq)
		return
	}

	// Check if this is a config request (has "action" field)
	var cfgReq ghostline.ConfigRequest
	if err := json.Unmarshal(raw, &cfgReq); err == nil && cfgReq.Action != "" {
		s.handleConfigRequest(conn, &cfgReq)
		return
	}

	var req ghostline.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		slog.Warn("invalid request", "error", err)
		return
	}

	// Cancel any in-flight request for this session and create a new context.
	ctx, cancel := context.WithCancel(context.Background())
	sid := req.SessionID
	reqID := req.RequestID
	if sid != "" {
		s.mu.Lock()
		if prev, ok := s.sessions[sid]; ok {
			prev.cancel()
		}
		s.sessions[sid] = sessionEntry{requestID: reqID, cancel: cancel}
		s.mu.Unlock()
	}
	defer func() {
		cancel()
		if sid != "" {
			s.mu.Lock()
			if cur, ok := s.sessions[sid]; ok && cur.requestID == reqID {
				delete(s.sessions, sid)
			}
			s.mu.Unlock()
		}
	}()

	doc := document.NewSnapshot(req.URI, req.LanguageID, req.Version, req.Text)
	result := s.engine.Complete(ctx, engine.Request{
		Doc:     doc,
		Pos:     document.Position{Line: req.Line, Col: req.Col},
		Cycling: req.Cycling,
	})

	// If cancelled, skip writing: the client has already moved on.
	if ctx.Err() != nil {
		return
	}

	resp := ghostline.Response{
		RequestID:  req.RequestID,
		Status:     result.Status.String(),
		Reason:     result.Reason,
		Candidates: result.Candidates,
	}
	if result.Status == ghostline.StatusSuccess {
		resp.Type = result.Type.String()
	}
	if result.Status == ghostline.StatusFailed {
		resp.Error = &ghostline.Error{Code: "api_error", Message: result.Reason}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	slog.Debug("response", "data", string(data))

	conn.Write(append(data, '\n'))
}

func (s *Server) handleEventRequest(conn net.Conn, req *ghostline.EventRequest) {
	resp := ghostline.EventResponse{OK: true}

	switch req.Action {
	case "shown":
		s.engine.HandleShown(req.URI, ghostline.Candidate{ID: req.CandidateID})
	case "accepted":
		s.engine.HandleAccept(req.CandidateID)
	case "partial_accepted":
		s.engine.HandlePartialAccept(req.CandidateID, req.Accepted)
	case "rejected":
		s.engine.RejectLastShown()
	default:
		resp.OK = false
		resp.Error = &ghostline.Error{Code: "unknown_action", Message: "unknown event action: " + req.Action}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal event response", "error", err)
		return
	}

	conn.Write(append(data, '\n'))
}

func (s *Server) handleConfigRequest(conn net.Conn, req *ghostline.ConfigRequest) {
	var resp ghostline.ConfigResponse

	switch req.Action {
	case "get":
		cfg, err := ghostline.LoadConfig()
		if err != nil {
			resp.Error = &ghostline.Error{
				Code:    "config_error",
				Message: err.Error(),
			}
		} else {
			resp.Config = cfg
		}

	case "reload":
		// Respond immediately; rebuild the engine in the background so a
		// slow endpoint health check cannot block the client.
		go s.reloadEngine()
		cfg, _ := ghostline.LoadConfig()
		resp.Config = cfg

	case "defaults":
		resp.Config = ghostline.DefaultConfig()

	case "validate":
		cfg, err := ghostline.LoadConfig()
		if err != nil {
			resp.Error = &ghostline.Error{
				Code:    "config_error",
				Message: err.Error(),
			}
		} else {
			resp.Warnings = ghostline.ValidateConfig(cfg)
		}

	default:
		resp.Error = &ghostline.Error{
			Code:    "unknown_action",
			Message: "unknown config action: " + req.Action,
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal config response", "error", err)
		return
	}

	slog.Debug("response", "data", string(data))

	conn.Write(append(data, '\n'))
}

func (s *Server) reloadEngine() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine != nil {
		s.engine.Close()
	}

	cfg, err := ghostline.LoadConfig()
	if err != nil {
		slog.Error("reload failed, keeping old config defaults", "error", err)
		cfg = ghostline.DefaultConfig()
	}
	s.engine = engine.New(cfg, newClient(cfg))
	slog.Info("engine reloaded")
}
