// ABOUTME: Invokers run a routed tool call either in process or through the JSON-RPC endpoint.
// ABOUTME: Remote performs a full protocol round trip over HTTP even when the gateway is local.

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/market-gateway/internal/jsonrpc"
	"github.com/2389/market-gateway/internal/tools"
)

// ErrRemote indicates the remote gateway answered with a protocol error.
var ErrRemote = errors.New("gateway returned an error")

// Invoker executes one tool call.
type Invoker interface {
	Invoke(ctx context.Context, tool string, args map[string]any) (tools.Result, error)
}

// InProcess calls the executor directly, with no envelope in between.
type InProcess struct {
	executor *tools.Executor
}

// NewInProcess creates an in-process invoker.
func NewInProcess(executor *tools.Executor) *InProcess {
	return &InProcess{executor: executor}
}

// Invoke implements Invoker.
func (p *InProcess) Invoke(ctx context.Context, tool string, args map[string]any) (tools.Result, error) {
	return p.executor.Call(ctx, tool, args)
}

// Remote sends tools/call requests to a gateway's synchronous endpoint.
type Remote struct {
	endpoint string
	client   *http.Client
}

// NewRemote creates a remote invoker. baseURL is the gateway root, e.g. http://localhost:8080.
func NewRemote(baseURL string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	endpoint := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(endpoint, "/mcp") {
		endpoint += "/mcp"
	}
	return &Remote{endpoint: endpoint, client: client}
}

// Invoke implements Invoker.
func (r *Remote) Invoke(ctx context.Context, tool string, args map[string]any) (tools.Result, error) {
	rpcReq, err := jsonrpc.NewRequest(
		jsonrpc.StringID(uuid.NewString()),
		jsonrpc.MethodToolsCall,
		jsonrpc.CallParams{Name: tool, Arguments: args},
	)
	if err != nil {
		return tools.Result{}, err
	}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return tools.Result{}, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return tools.Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return tools.Result{}, fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return tools.Result{}, fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var rpcResp jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return tools.Result{}, fmt.Errorf("decoding response: %w", err)
	}
	if rpcResp.Error != nil {
		return tools.Result{}, fmt.Errorf("%w: %d %s", ErrRemote, rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var result tools.Result
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return tools.Result{}, fmt.Errorf("decoding result: %w", err)
	}
	return result, nil
}
