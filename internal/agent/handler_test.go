// ABOUTME: Tests for the chat SSE endpoint.

package agent

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveChat(t *testing.T, p Provider, maxSteps int, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(newLoop(t, p, maxSteps), nil).RegisterRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
	return rr
}

func TestHandleChat(t *testing.T) {
	p := &scriptedProvider{script: func(step int, _ []Turn) (Completion, error) {
		if step == 1 {
			return Completion{ToolCalls: []ToolCall{{Name: "slow-echo", Arguments: `{"message":"x"}`}}}, nil
		}
		return Completion{Content: "All done."}, nil
	}}
	rr := serveChat(t, p, 5, `{"message":"hello"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: started\n"))
	assert.Contains(t, body, "event: delta\ndata: {\"text\":\"All done.\"}\n\n")
	assert.Contains(t, body, `event: done`)
	assert.Contains(t, body, `"steps":2`)
	assert.NotContains(t, body, "Echo: x", "tool turns stay server-side")
}

func TestHandleChatCeiling(t *testing.T) {
	p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
		return Completion{ToolCalls: []ToolCall{{Name: "slow-echo", Arguments: `{"message":"x"}`}}}, nil
	}}
	rr := serveChat(t, p, 2, `{"message":"spin"}`)
	assert.Contains(t, rr.Body.String(), `"truncated":true`)
}

func TestHandleChatProviderFailure(t *testing.T) {
	p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
		return Completion{}, ErrProviderUnavailable
	}}
	rr := serveChat(t, p, 2, `{"message":"hi"}`)
	assert.Contains(t, rr.Body.String(), "event: error")
}

func TestHandleChatBadRequests(t *testing.T) {
	p := &scriptedProvider{script: func(int, []Turn) (Completion, error) {
		return Completion{Content: "x"}, nil
	}}

	rr := serveChat(t, p, 2, `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serveChat(t, p, 2, `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 0, p.calls())
}

var _ Provider = (*scriptedProvider)(nil)
