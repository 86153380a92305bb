// ABOUTME: Provider for OpenAI-compatible chat completion APIs with streamed responses.
// ABOUTME: Assembles text deltas and indexed tool-call fragments into one Completion.

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	BaseURL    string // e.g. https://api.openai.com/v1
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAI talks to any server implementing POST {base}/chat/completions with stream=true.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &OpenAI{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  client,
	}, nil
}

type chatTool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

type chatRequest struct {
	Model    string     `json:"model"`
	Messages []Turn     `json:"messages"`
	Tools    []chatTool `json:"tools,omitempty"`
	Stream   bool       `json:"stream"`
}

type chunkToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []chunkToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Provider.
func (p *OpenAI) Complete(ctx context.Context, turns []Turn, functions []Function, onDelta DeltaFunc) (Completion, error) {
	body := chatRequest{Model: p.model, Messages: turns, Stream: true}
	for _, fn := range functions {
		body.Tools = append(body.Tools, chatTool{Type: "function", Function: fn})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Completion{}, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Completion{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Completion{}, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return readStream(resp.Body, onDelta)
}

// readStream consumes a chat completion event stream until [DONE] or EOF.
func readStream(r io.Reader, onDelta DeltaFunc) (Completion, error) {
	var (
		content strings.Builder
		calls   = map[int]*ToolCall{}
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return Completion{}, fmt.Errorf("%w: malformed stream chunk: %v", ErrProviderUnavailable, err)
		}
		if chunk.Error != nil {
			return Completion{}, fmt.Errorf("%w: %s", ErrProviderUnavailable, chunk.Error.Message)
		}

		for _, choice := range chunk.Choices {
			if text := choice.Delta.Content; text != "" {
				content.WriteString(text)
				if onDelta != nil {
					onDelta(text)
				}
			}
			for _, frag := range choice.Delta.ToolCalls {
				tc, ok := calls[frag.Index]
				if !ok {
					tc = &ToolCall{}
					calls[frag.Index] = tc
				}
				if frag.ID != "" {
					tc.ID = frag.ID
				}
				if frag.Function.Name != "" {
					tc.Name = frag.Function.Name
				}
				tc.Arguments += frag.Function.Arguments
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Completion{}, fmt.Errorf("%w: reading stream: %v", ErrProviderUnavailable, err)
	}

	out := Completion{Content: content.String()}
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		out.ToolCalls = append(out.ToolCalls, *calls[i])
	}
	return out, nil
}
