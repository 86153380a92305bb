// ABOUTME: Streaming binding: one request in, a bounded SSE sequence out, then close.
// ABOUTME: Frames are produced lazily by an iterator that always ends in one terminal envelope.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/2389/market-gateway/internal/jsonrpc"
	"github.com/2389/market-gateway/internal/session"
)

// Notice types emitted before the terminal envelope.
const (
	NoticeConnected  = "connected"
	NoticeProcessing = "processing"
)

// Notice is an informational, non-protocol frame.
type Notice struct {
	Type string `json:"type"`
	Tool string `json:"tool,omitempty"`
}

// Frame is one SSE data payload: a notice or the terminal envelope.
type Frame struct {
	Notice   *Notice
	Envelope *jsonrpc.Response
}

// Terminal reports whether this frame ends the stream.
func (f Frame) Terminal() bool {
	return f.Envelope != nil
}

// MarshalJSON encodes whichever payload the frame carries.
func (f Frame) MarshalJSON() ([]byte, error) {
	if f.Envelope != nil {
		return json.Marshal(f.Envelope)
	}
	return json.Marshal(f.Notice)
}

func noticeFrame(kind, tool string) Frame {
	return Frame{Notice: &Notice{Type: kind, Tool: tool}}
}

// Stream produces the frames for one streaming request. The sequence is finite and
// single-use: connected, an optional processing notice, then exactly one envelope.
// A panic after connect becomes a terminal internal error envelope.
func (s *Server) Stream(ctx context.Context, body []byte) iter.Seq[Frame] {
	return s.stream(ctx, body, nil)
}

func (s *Server) stream(ctx context.Context, body []byte, early *jsonrpc.Error) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		if !yield(noticeFrame(NoticeConnected, "")) {
			return
		}

		var (
			id       json.RawMessage
			stopped  bool
			yielding bool
			terminal *jsonrpc.Response
		)
		emit := func(f Frame) bool {
			if stopped {
				return false
			}
			yielding = true
			if !yield(f) {
				stopped = true
			}
			yielding = false
			return !stopped
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					if yielding {
						// the consumer panicked; it must see its own panic
						panic(r)
					}
					s.logger.Error("panic in streaming request",
						"panic", r,
						"stack", string(debug.Stack()),
					)
					terminal = jsonrpc.Failure(id, jsonrpc.NewError(jsonrpc.CodeInternalError, "internal error"))
				}
			}()
			if early != nil {
				terminal = jsonrpc.Failure(nil, early)
				return
			}
			terminal = s.streamRequest(ctx, body, &id, emit)
		}()

		if terminal != nil {
			emit(Frame{Envelope: terminal})
		}
	}
}

// streamRequest runs the request and returns its terminal envelope, or nil if the
// consumer stopped early. id is filled as soon as it is known.
func (s *Server) streamRequest(ctx context.Context, body []byte, id *json.RawMessage, emit func(Frame) bool) *jsonrpc.Response {
	req, failure := s.decode(body)
	if req != nil {
		*id = req.ID
	}
	if failure != nil {
		return failure
	}

	switch req.Method {
	case jsonrpc.MethodToolsList:
		resp := s.listTools(req)
		s.cacheEnvelope(ctx, req, session.KindTools, resp)
		return resp

	case jsonrpc.MethodToolsCall:
		call, failure := s.prepareCall(req)
		if failure != nil {
			return failure
		}
		if !emit(noticeFrame(NoticeProcessing, call.name)) {
			return nil
		}
		resp := s.callTool(ctx, req, call)
		s.cacheEnvelope(ctx, req, session.KindResult, resp)
		return resp

	default:
		return jsonrpc.Failure(req.ID, jsonrpc.Errorf(jsonrpc.CodeMethodNotFound, "method not found: %s", req.Method))
	}
}

// cacheEnvelope stores resp under the request id. Null ids are never cached and
// cache failures are logged, not surfaced.
func (s *Server) cacheEnvelope(ctx context.Context, req *jsonrpc.Request, kind session.Kind, resp *jsonrpc.Response) {
	if s.cache == nil || !req.HasID() {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("encoding envelope for cache", "error", err)
		return
	}
	if err := s.cache.Put(ctx, jsonrpc.IDKey(req.ID), kind, data); err != nil {
		s.logger.Warn("session cache write failed", "error", err)
	}
}

// setCORSHeaders applies the permissive CORS policy of the streaming binding.
func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

// handleStream serves POST and OPTIONS on the streaming endpoint.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w.Header())

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	start := time.Now()
	body, early := readBody(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	method := ""
	for frame := range s.stream(r.Context(), body, early) {
		if err := writeFrame(w, frame); err != nil {
			s.logger.Debug("stream client went away", "error", err)
			return
		}
		flusher.Flush()
		if frame.Terminal() {
			if req, _ := jsonrpc.Decode(body); req != nil {
				method = req.Method
			}
			s.observe(BindingStream, method, frame.Envelope, start)
		}
	}
}

// writeFrame writes one data-only SSE event.
func writeFrame(w http.ResponseWriter, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
