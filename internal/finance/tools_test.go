// ABOUTME: Tests for the finance tool table, handlers, and simulated market.
// ABOUTME: Runs handlers through a real registry so schema defaults apply as they do on the wire.

package finance

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/market-gateway/internal/tools"
)

var fixedNow = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

func setupFinance(t *testing.T) (*Service, *tools.Executor) {
	t.Helper()
	market := NewSimulatedMarket(42, WithClock(func() time.Time { return fixedNow }))
	svc := NewService(market, slog.Default())
	registry := tools.NewRegistry(slog.Default())
	svc.Register(registry)
	return svc, tools.NewExecutor(registry, slog.Default())
}

func TestToolTable(t *testing.T) {
	svc := NewService(NewSimulatedMarket(1), slog.Default())
	handlers := svc.handlers()

	for _, tool := range AllTools() {
		assert.NotEmpty(t, toolNames[tool], "tool %d has no name", tool)
		assert.NotEmpty(t, descriptors[tool].description, "tool %s has no description", tool)
		assert.NotEmpty(t, descriptors[tool].schema, "tool %s has no schema", tool)
		assert.NotNil(t, handlers[tool], "tool %s has no handler", tool)

		parsed, ok := ParseTool(tool.String())
		require.True(t, ok)
		assert.Equal(t, tool, parsed)
	}

	_, ok := ParseTool("get-weather")
	assert.False(t, ok)
	assert.Equal(t, "unknown", numTools.String())
}

func TestRegistrationOrder(t *testing.T) {
	_, exec := setupFinance(t)
	var names []string
	for _, d := range exec.Registry().Descriptors() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"echo",
		"get-stock-quotes",
		"get-market-summary",
		"get-financial-analysis",
		"get-investment-advice",
		"help",
		"chat",
	}, names)
}

func TestEcho(t *testing.T) {
	_, exec := setupFinance(t)
	res, err := exec.Call(context.Background(), "echo", map[string]any{"message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Echo: hello", res.Text())
}

func TestStockQuotes(t *testing.T) {
	_, exec := setupFinance(t)
	ctx := context.Background()

	t.Run("defaults to watchlist", func(t *testing.T) {
		res, err := exec.Call(ctx, "get-stock-quotes", map[string]any{})
		require.NoError(t, err)
		assert.False(t, res.IsError)
		for _, sym := range DefaultWatchlist {
			assert.Contains(t, res.Text(), "**"+sym+"**")
		}
	})

	t.Run("normalizes lowercase symbols", func(t *testing.T) {
		res, err := exec.Call(ctx, "get-stock-quotes", map[string]any{"symbols": []string{"tsla"}})
		require.NoError(t, err)
		assert.Contains(t, res.Text(), "**TSLA** (Tesla Inc.)")
	})

	t.Run("invalid symbol is an error result", func(t *testing.T) {
		res, err := exec.Call(ctx, "get-stock-quotes", map[string]any{"symbols": []string{"not a ticker"}})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Text(), "unknown symbol")
	})
}

func TestMarketSummary(t *testing.T) {
	_, exec := setupFinance(t)
	ctx := context.Background()

	res, err := exec.Call(ctx, "get-market-summary", map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, res.Text(), "S&P 500")
	assert.Contains(t, res.Text(), "Sector Performance")

	res, err = exec.Call(ctx, "get-market-summary", map[string]any{"includeSectors": false})
	require.NoError(t, err)
	assert.NotContains(t, res.Text(), "Sector Performance")
}

func TestFinancialAnalysis(t *testing.T) {
	_, exec := setupFinance(t)
	ctx := context.Background()

	t.Run("analysisType defaults to comprehensive", func(t *testing.T) {
		res, err := exec.Call(ctx, "get-financial-analysis", map[string]any{"symbol": "AAPL"})
		require.NoError(t, err)
		assert.Contains(t, res.Text(), "Comprehensive Analysis: AAPL")
		assert.Contains(t, res.Text(), "### Technical")
		assert.Contains(t, res.Text(), "### Fundamental")
	})

	t.Run("technical only", func(t *testing.T) {
		res, err := exec.Call(ctx, "get-financial-analysis", map[string]any{"symbol": "MSFT", "analysisType": "technical"})
		require.NoError(t, err)
		assert.Contains(t, res.Text(), "### Technical")
		assert.NotContains(t, res.Text(), "### Fundamental")
	})

	t.Run("missing symbol fails validation", func(t *testing.T) {
		_, err := exec.Call(ctx, "get-financial-analysis", map[string]any{})
		var schemaErr *tools.SchemaError
		assert.True(t, errors.As(err, &schemaErr))
	})

	t.Run("same arguments give same output", func(t *testing.T) {
		args := map[string]any{"symbol": "NVDA"}
		first, err := exec.Call(ctx, "get-financial-analysis", args)
		require.NoError(t, err)
		second, err := exec.Call(ctx, "get-financial-analysis", args)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestInvestmentAdvice(t *testing.T) {
	_, exec := setupFinance(t)
	ctx := context.Background()

	res, err := exec.Call(ctx, "get-investment-advice", map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, res.Text(), "(moderate)")
	assert.Contains(t, res.Text(), "Equities: 60%")

	res, err = exec.Call(ctx, "get-investment-advice", map[string]any{"riskTolerance": "aggressive", "symbols": []string{"JPM"}})
	require.NoError(t, err)
	assert.Contains(t, res.Text(), "Equities: 85%")
	assert.Contains(t, res.Text(), "**JPM**")
	assert.NotContains(t, res.Text(), "**AAPL**")
}

func TestChat(t *testing.T) {
	svc, exec := setupFinance(t)
	ctx := context.Background()

	res, err := exec.Call(ctx, "chat", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Text(), "help")

	svc.SetChat(func(_ context.Context, message string) (string, error) {
		return "you said " + message, nil
	})
	res, err = exec.Call(ctx, "chat", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "you said hi", res.Text())

	svc.SetChat(func(_ context.Context, _ string) (string, error) {
		return "", ErrChatUnavailable
	})
	res, err = exec.Call(ctx, "chat", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSimulatedMarket(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return fixedNow }

	a := NewSimulatedMarket(7, WithClock(clock))
	b := NewSimulatedMarket(7, WithClock(clock))
	c := NewSimulatedMarket(8, WithClock(clock))

	qa, err := a.Quote(ctx, "AAPL")
	require.NoError(t, err)
	qb, err := b.Quote(ctx, "aapl")
	require.NoError(t, err)
	qc, err := c.Quote(ctx, "AAPL")
	require.NoError(t, err)

	assert.Equal(t, qa, qb)
	assert.NotEqual(t, qa.Price, qc.Price)
	assert.LessOrEqual(t, qa.Low52Week, qa.Price)
	assert.GreaterOrEqual(t, qa.High52Week, qa.Price)
	assert.Equal(t, fixedNow, qa.AsOf)

	_, err = a.Quote(ctx, "12345")
	assert.True(t, errors.Is(err, ErrUnknownSymbol))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = a.Indices(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGroupDigits(t *testing.T) {
	assert.Equal(t, "0", groupDigits(0))
	assert.Equal(t, "999", groupDigits(999))
	assert.Equal(t, "1,000", groupDigits(1000))
	assert.Equal(t, "12,345,678", groupDigits(12345678))
	assert.Equal(t, "-1,234", groupDigits(-1234))
}
