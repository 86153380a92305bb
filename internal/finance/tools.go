// ABOUTME: Compile-time tool table mapping each finance tool to its descriptor and handler.
// ABOUTME: Wire names derive from the Tool enum so the table and the lookup cannot drift.

package finance

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/2389/market-gateway/internal/tools"
)

// Tool identifies one of the finance tools.
type Tool int

const (
	Echo Tool = iota
	StockQuotes
	MarketSummary
	FinancialAnalysis
	InvestmentAdvice
	Help
	Chat
	numTools
)

var toolNames = [numTools]string{
	Echo:              "echo",
	StockQuotes:       "get-stock-quotes",
	MarketSummary:     "get-market-summary",
	FinancialAnalysis: "get-financial-analysis",
	InvestmentAdvice:  "get-investment-advice",
	Help:              "help",
	Chat:              "chat",
}

var toolsByName = func() map[string]Tool {
	m := make(map[string]Tool, numTools)
	for t := Tool(0); t < numTools; t++ {
		m[toolNames[t]] = t
	}
	return m
}()

func (t Tool) String() string {
	if t < 0 || t >= numTools {
		return "unknown"
	}
	return toolNames[t]
}

// ParseTool maps a wire name back to its Tool.
func ParseTool(name string) (Tool, bool) {
	t, ok := toolsByName[name]
	return t, ok
}

// AllTools returns every tool in registration order.
func AllTools() []Tool {
	out := make([]Tool, numTools)
	for i := range out {
		out[i] = Tool(i)
	}
	return out
}

// DefaultWatchlist is used when a caller names no symbols.
var DefaultWatchlist = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA"}

type descriptor struct {
	description string
	schema      string
}

var descriptors = [numTools]descriptor{
	Echo: {
		description: "Echo back the provided message",
		schema:      `{"type":"object","properties":{"message":{"type":"string","description":"Message to echo"}},"required":["message"]}`,
	},
	StockQuotes: {
		description: "Get current stock quotes for one or more symbols",
		schema:      `{"type":"object","properties":{"symbols":{"type":"array","items":{"type":"string"},"description":"Ticker symbols","default":["AAPL","MSFT","GOOGL","AMZN","NVDA"]}}}`,
	},
	MarketSummary: {
		description: "Get a summary of major market indices and optionally sector performance",
		schema:      `{"type":"object","properties":{"includeSectors":{"type":"boolean","description":"Include sector performance","default":true}}}`,
	},
	FinancialAnalysis: {
		description: "Analyze a single stock",
		schema:      `{"type":"object","properties":{"symbol":{"type":"string","description":"Ticker symbol to analyze"},"analysisType":{"type":"string","enum":["comprehensive","technical","fundamental"],"default":"comprehensive"}},"required":["symbol"]}`,
	},
	InvestmentAdvice: {
		description: "Get portfolio guidance for a risk tolerance and optional symbols",
		schema:      `{"type":"object","properties":{"riskTolerance":{"type":"string","enum":["conservative","moderate","aggressive"],"default":"moderate"},"symbols":{"type":"array","items":{"type":"string"},"default":["AAPL","MSFT","GOOGL","AMZN","NVDA"]}}}`,
	},
	Help: {
		description: "List what this assistant can do",
		schema:      `{"type":"object","properties":{}}`,
	},
	Chat: {
		description: "Free-form conversation with the market assistant",
		schema:      `{"type":"object","properties":{"message":{"type":"string","description":"What the user said"}},"required":["message"]}`,
	},
}

// ChatFunc answers a free-form message.
type ChatFunc func(ctx context.Context, message string) (string, error)

// Service implements the finance tool handlers over a MarketData backend.
type Service struct {
	market MarketData
	chat   atomic.Pointer[ChatFunc]
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(market MarketData, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		market: market,
		logger: logger.With("component", "finance"),
	}
}

// SetChat installs the responder behind the chat tool. The agent loop depends on the
// registry that holds the chat tool, so it is attached after construction.
func (s *Service) SetChat(fn ChatFunc) {
	if fn == nil {
		s.chat.Store(nil)
		return
	}
	s.chat.Store(&fn)
}

func (s *Service) handlers() [numTools]tools.Handler {
	return [numTools]tools.Handler{
		Echo:              s.echo,
		StockQuotes:       s.stockQuotes,
		MarketSummary:     s.marketSummary,
		FinancialAnalysis: s.financialAnalysis,
		InvestmentAdvice:  s.investmentAdvice,
		Help:              s.help,
		Chat:              s.chatReply,
	}
}

// Tools returns every finance tool ready for registration.
func (s *Service) Tools() []tools.Tool {
	handlers := s.handlers()
	out := make([]tools.Tool, 0, numTools)
	for t := Tool(0); t < numTools; t++ {
		d := descriptors[t]
		out = append(out, tools.Tool{
			Descriptor: tools.Descriptor{
				Name:        t.String(),
				Description: d.description,
				InputSchema: json.RawMessage(d.schema),
			},
			Handler: handlers[t],
		})
	}
	return out
}

// Register adds every finance tool to registry.
func (s *Service) Register(registry *tools.Registry) {
	registry.MustRegister(s.Tools()...)
}
