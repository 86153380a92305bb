// ABOUTME: Handlers for the finance tools, rendering market data as markdown text.
// ABOUTME: Arguments arrive validated and default-filled from the registry.

package finance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/2389/market-gateway/internal/tools"
)

func (s *Service) echo(_ context.Context, args map[string]any) (tools.Result, error) {
	return tools.TextResult("Echo: " + stringArg(args, "message")), nil
}

func (s *Service) stockQuotes(ctx context.Context, args map[string]any) (tools.Result, error) {
	symbols := stringSliceArg(args, "symbols")
	if len(symbols) == 0 {
		symbols = DefaultWatchlist
	}

	var b strings.Builder
	b.WriteString("## Stock Quotes\n")
	for _, sym := range symbols {
		q, err := s.market.Quote(ctx, sym)
		if err != nil {
			return tools.Result{}, fmt.Errorf("quote %s: %w", sym, err)
		}
		fmt.Fprintf(&b, "\n**%s** (%s)\n", q.Symbol, q.Name)
		fmt.Fprintf(&b, "- Price: $%.2f (%s, %s)\n", q.Price, signed(q.Change), signedPct(q.ChangePercent))
		fmt.Fprintf(&b, "- Volume: %s\n", groupDigits(q.Volume))
		fmt.Fprintf(&b, "- Market Cap: %s\n", compactDollars(q.MarketCap))
	}
	return tools.TextResult(b.String()), nil
}

func (s *Service) marketSummary(ctx context.Context, args map[string]any) (tools.Result, error) {
	indices, err := s.market.Indices(ctx)
	if err != nil {
		return tools.Result{}, fmt.Errorf("indices: %w", err)
	}

	var b strings.Builder
	b.WriteString("## Market Summary\n\n### Major Indices\n")
	for _, idx := range indices {
		fmt.Fprintf(&b, "- **%s**: %.2f (%s, %s)\n", idx.Name, idx.Value, signed(idx.Change), signedPct(idx.ChangePercent))
	}

	if boolArg(args, "includeSectors", true) {
		sectors, err := s.market.Sectors(ctx)
		if err != nil {
			return tools.Result{}, fmt.Errorf("sectors: %w", err)
		}
		sorted := append([]SectorPerformance(nil), sectors...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].ChangePercent > sorted[j].ChangePercent
		})
		b.WriteString("\n### Sector Performance\n")
		for _, sec := range sorted {
			fmt.Fprintf(&b, "- %s: %s\n", sec.Name, signedPct(sec.ChangePercent))
		}
		if len(sorted) > 0 {
			fmt.Fprintf(&b, "\nLeading: **%s**. Lagging: **%s**.\n", sorted[0].Name, sorted[len(sorted)-1].Name)
		}
	}

	fmt.Fprintf(&b, "\nMarket sentiment: %s\n", sentiment(indices))
	return tools.TextResult(b.String()), nil
}

func (s *Service) financialAnalysis(ctx context.Context, args map[string]any) (tools.Result, error) {
	q, err := s.market.Quote(ctx, stringArg(args, "symbol"))
	if err != nil {
		return tools.Result{}, err
	}
	kind := stringArg(args, "analysisType")

	var b strings.Builder
	fmt.Fprintf(&b, "## %s Analysis: %s (%s)\n\n", titleCase(kind), q.Symbol, q.Name)
	fmt.Fprintf(&b, "Current price: $%.2f (%s today)\n", q.Price, signedPct(q.ChangePercent))

	switch kind {
	case "technical":
		writeTechnical(&b, q)
	case "fundamental":
		writeFundamental(&b, q)
	default:
		writeTechnical(&b, q)
		writeFundamental(&b, q)
		fmt.Fprintf(&b, "\n### Overall\n%s\n", overallView(q))
	}
	return tools.TextResult(b.String()), nil
}

func writeTechnical(b *strings.Builder, q Quote) {
	position := rangePosition(q)
	b.WriteString("\n### Technical\n")
	fmt.Fprintf(b, "- 52-week range: $%.2f to $%.2f\n", q.Low52Week, q.High52Week)
	fmt.Fprintf(b, "- Position in range: %.0f%%\n", position*100)
	fmt.Fprintf(b, "- Support: $%.2f, Resistance: $%.2f\n", q.Low52Week, q.High52Week)
	fmt.Fprintf(b, "- Momentum: %s\n", momentum(q.ChangePercent))
}

func writeFundamental(b *strings.Builder, q Quote) {
	b.WriteString("\n### Fundamental\n")
	fmt.Fprintf(b, "- Sector: %s\n", q.Sector)
	fmt.Fprintf(b, "- Market cap: %s\n", compactDollars(q.MarketCap))
	fmt.Fprintf(b, "- P/E ratio: %.2f (%s)\n", q.PERatio, valuation(q.PERatio))
}

func (s *Service) investmentAdvice(ctx context.Context, args map[string]any) (tools.Result, error) {
	risk := stringArg(args, "riskTolerance")
	symbols := stringSliceArg(args, "symbols")
	if len(symbols) == 0 {
		symbols = DefaultWatchlist
	}

	alloc, ok := allocations[risk]
	if !ok {
		alloc = allocations["moderate"]
		risk = "moderate"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Investment Guidance (%s)\n\n### Suggested Allocation\n", risk)
	fmt.Fprintf(&b, "- Equities: %d%%\n- Bonds: %d%%\n- Cash: %d%%\n", alloc.equities, alloc.bonds, alloc.cash)

	b.WriteString("\n### Holdings\n")
	for _, sym := range symbols {
		q, err := s.market.Quote(ctx, sym)
		if err != nil {
			return tools.Result{}, fmt.Errorf("quote %s: %w", sym, err)
		}
		fmt.Fprintf(&b, "- **%s** $%.2f: %s\n", q.Symbol, q.Price, rating(q, risk))
	}
	b.WriteString("\nThis is simulated guidance, not financial advice.\n")
	return tools.TextResult(b.String()), nil
}

func (s *Service) help(_ context.Context, _ map[string]any) (tools.Result, error) {
	return tools.TextResult(helpText), nil
}

const helpText = `## Market Assistant

Try one of these:
- **analyze AAPL** or **$AAPL** for a full analysis of a stock
- **quote AAPL MSFT** for current prices of specific symbols
- **market summary** for indices and sectors
- **advice** or **what should I invest in** for portfolio guidance
- **quotes** for prices on the default watchlist
- anything else to chat with the assistant`

// ErrChatUnavailable is returned when the chat tool has no responder.
var ErrChatUnavailable = errors.New("chat responder not configured")

func (s *Service) chatReply(ctx context.Context, args map[string]any) (tools.Result, error) {
	message := stringArg(args, "message")
	fn := s.chat.Load()
	if fn == nil {
		return tools.TextResult("I can look up quotes, summarize the market, analyze a stock, or suggest an allocation. " +
			"Say \"help\" to see examples."), nil
	}
	reply, err := (*fn)(ctx, message)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.TextResult(reply), nil
}

type allocation struct {
	equities, bonds, cash int
}

var allocations = map[string]allocation{
	"conservative": {equities: 30, bonds: 55, cash: 15},
	"moderate":     {equities: 60, bonds: 30, cash: 10},
	"aggressive":   {equities: 85, bonds: 10, cash: 5},
}

func rangePosition(q Quote) float64 {
	span := q.High52Week - q.Low52Week
	if span <= 0 {
		return 0.5
	}
	return (q.Price - q.Low52Week) / span
}

func momentum(pct float64) string {
	switch {
	case pct >= 1.5:
		return "strong upward"
	case pct > 0:
		return "mildly positive"
	case pct <= -1.5:
		return "strong downward"
	case pct < 0:
		return "mildly negative"
	default:
		return "flat"
	}
}

func valuation(pe float64) string {
	switch {
	case pe < 15:
		return "value territory"
	case pe < 30:
		return "fairly valued"
	default:
		return "growth premium"
	}
}

func overallView(q Quote) string {
	pos := rangePosition(q)
	switch {
	case pos < 0.35 && q.PERatio < 30:
		return "Trading near the low end of its range at a reasonable multiple. Worth a closer look."
	case pos > 0.8:
		return "Trading near its 52-week high. Momentum is intact but entry risk is elevated."
	default:
		return "Mid-range price with no strong signal either way. Hold."
	}
}

func rating(q Quote, risk string) string {
	pos := rangePosition(q)
	switch {
	case risk == "conservative" && q.PERatio > 35:
		return "Avoid (valuation too rich for a conservative profile)"
	case pos < 0.4:
		return "Accumulate"
	case pos > 0.85 && risk != "aggressive":
		return "Trim"
	default:
		return "Hold"
	}
}

func sentiment(indices []Index) string {
	var up int
	for _, idx := range indices {
		if idx.ChangePercent > 0 {
			up++
		}
	}
	switch {
	case len(indices) == 0:
		return "unknown"
	case up == len(indices):
		return "bullish"
	case up == 0:
		return "bearish"
	default:
		return "mixed"
	}
}
