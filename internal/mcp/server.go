// ABOUTME: JSON-RPC tool server exposing the registry over synchronous and streaming HTTP bindings.
// ABOUTME: Also serves cached streaming envelopes by request id when a session cache is configured.

package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/market-gateway/internal/jsonrpc"
	"github.com/2389/market-gateway/internal/session"
	"github.com/2389/market-gateway/internal/tools"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Binding names used in logs and metrics.
const (
	BindingSync   = "sync"
	BindingStream = "stream"
)

// Recorder observes answered JSON-RPC requests. code is 0 for success.
type Recorder interface {
	ObserveRequest(binding, method string, code int, elapsed time.Duration)
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []tools.Descriptor `json:"tools"`
}

// Config holds configuration for the server.
type Config struct {
	Executor *tools.Executor
	Cache    *session.Cache // optional
	Recorder Recorder       // optional
	Logger   *slog.Logger
}

// Server implements the tool protocol HTTP endpoints.
type Server struct {
	executor *tools.Executor
	registry *tools.Registry
	cache    *session.Cache
	recorder Recorder
	logger   *slog.Logger
}

// NewServer creates a new server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		executor: cfg.Executor,
		registry: cfg.Executor.Registry(),
		cache:    cfg.Cache,
		recorder: cfg.Recorder,
		logger:   logger.With("component", "mcp"),
	}, nil
}

// RegisterRoutes registers the protocol endpoints on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleSync)
	mux.HandleFunc("/mcp/stream", s.handleStream)
	mux.HandleFunc("GET /mcp/sessions/{id}/{kind}", s.handleSession)
}

// handleSync answers one JSON-RPC request with one application/json envelope.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	body, rpcErr := readBody(r)
	var resp *jsonrpc.Response
	method := ""
	if rpcErr != nil {
		resp = jsonrpc.Failure(nil, rpcErr)
	} else {
		var req *jsonrpc.Request
		req, resp = s.decode(body)
		if req != nil {
			method = req.Method
		}
		if resp == nil {
			resp = s.dispatch(r, req)
		}
	}

	s.observe(BindingSync, method, resp, start)
	s.sendResponse(w, resp)
}

// dispatch routes a decoded request to its method handler.
func (s *Server) dispatch(r *http.Request, req *jsonrpc.Request) *jsonrpc.Response {
	switch req.Method {
	case jsonrpc.MethodToolsList:
		return s.listTools(req)
	case jsonrpc.MethodToolsCall:
		call, resp := s.prepareCall(req)
		if resp != nil {
			return resp
		}
		return s.callTool(r.Context(), req, call)
	default:
		return jsonrpc.Failure(req.ID, jsonrpc.Errorf(jsonrpc.CodeMethodNotFound, "method not found: %s", req.Method))
	}
}

// handleSession returns a cached envelope written by the streaming binding.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		http.Error(w, "session cache not configured", http.StatusNotImplemented)
		return
	}

	kind, ok := session.ParseKind(r.PathValue("kind"))
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	data, err := s.cache.Fetch(r.Context(), r.PathValue("id"), kind)
	if errors.Is(err, session.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("reading session cache", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// readBody reads at most MaxRequestBodySize bytes.
func readBody(r *http.Request) ([]byte, *jsonrpc.Error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeParseError, "failed to read request body")
	}
	if int64(len(body)) > MaxRequestBodySize {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "request body too large")
	}
	return body, nil
}

// sendResponse writes a JSON-RPC envelope.
func (s *Server) sendResponse(w http.ResponseWriter, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

func (s *Server) observe(binding, method string, resp *jsonrpc.Response, start time.Time) {
	if s.recorder == nil {
		return
	}
	code := 0
	if resp != nil && resp.Error != nil {
		code = resp.Error.Code
	}
	s.recorder.ObserveRequest(binding, method, code, time.Since(start))
}
