// ABOUTME: Market data backend interface and a deterministic simulated implementation.
// ABOUTME: Prices derive from a seeded hash of the symbol so repeated calls agree.

package finance

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"time"
)

// ErrUnknownSymbol indicates a ticker the backend cannot price.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Quote is a point-in-time price snapshot for one symbol.
type Quote struct {
	Symbol        string
	Name          string
	Sector        string
	Price         float64
	Change        float64
	ChangePercent float64
	Volume        int64
	MarketCap     float64
	PERatio       float64
	High52Week    float64
	Low52Week     float64
	AsOf          time.Time
}

// Index is a market index level.
type Index struct {
	Name          string
	Value         float64
	Change        float64
	ChangePercent float64
}

// SectorPerformance is a sector's daily move.
type SectorPerformance struct {
	Name          string
	ChangePercent float64
}

// MarketData supplies prices to the tool backends.
type MarketData interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Indices(ctx context.Context) ([]Index, error)
	Sectors(ctx context.Context) ([]SectorPerformance, error)
}

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z.]{0,5}$`)

type company struct {
	name   string
	sector string
}

var knownCompanies = map[string]company{
	"AAPL":  {"Apple Inc.", "Technology"},
	"MSFT":  {"Microsoft Corporation", "Technology"},
	"GOOGL": {"Alphabet Inc.", "Communication Services"},
	"AMZN":  {"Amazon.com Inc.", "Consumer Discretionary"},
	"NVDA":  {"NVIDIA Corporation", "Technology"},
	"META":  {"Meta Platforms Inc.", "Communication Services"},
	"TSLA":  {"Tesla Inc.", "Consumer Discretionary"},
	"JPM":   {"JPMorgan Chase & Co.", "Financials"},
	"V":     {"Visa Inc.", "Financials"},
	"JNJ":   {"Johnson & Johnson", "Health Care"},
	"XOM":   {"Exxon Mobil Corporation", "Energy"},
	"WMT":   {"Walmart Inc.", "Consumer Staples"},
}

var indexBases = []struct {
	name string
	base float64
}{
	{"S&P 500", 5200},
	{"Dow Jones", 39000},
	{"NASDAQ", 16400},
	{"Russell 2000", 2050},
}

var sectorNames = []string{
	"Technology",
	"Health Care",
	"Financials",
	"Consumer Discretionary",
	"Communication Services",
	"Industrials",
	"Consumer Staples",
	"Energy",
	"Utilities",
	"Real Estate",
	"Materials",
}

// SimulatedMarket generates plausible market data without any network access.
// Output for a given seed and day is stable.
type SimulatedMarket struct {
	seed uint64
	now  func() time.Time
}

// SimulatedOption configures a SimulatedMarket.
type SimulatedOption func(*SimulatedMarket)

// WithClock overrides the time source.
func WithClock(now func() time.Time) SimulatedOption {
	return func(m *SimulatedMarket) {
		m.now = now
	}
}

// NewSimulatedMarket creates a simulated backend.
func NewSimulatedMarket(seed uint64, opts ...SimulatedOption) *SimulatedMarket {
	m := &SimulatedMarket{seed: seed, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NormalizeSymbol upper-cases and validates a ticker.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}
	return s, nil
}

// Quote returns a simulated quote for symbol.
func (m *SimulatedMarket) Quote(ctx context.Context, symbol string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return Quote{}, err
	}

	now := m.now()
	day := m.dayKey(now)

	base := 20 + m.unit(sym, "base")*480
	changePct := (m.unit(sym, "move", day) - 0.5) * 6
	price := round2(base * (1 + changePct/100))
	change := round2(price - base)

	info, ok := knownCompanies[sym]
	if !ok {
		info = company{name: sym + " Holdings", sector: sectorNames[int(m.unit(sym, "sector")*float64(len(sectorNames)))%len(sectorNames)]}
	}

	shares := 0.5e9 + m.unit(sym, "shares")*15e9
	high := round2(base * (1.1 + m.unit(sym, "high")*0.4))
	low := round2(base * (0.6 + m.unit(sym, "low")*0.3))

	return Quote{
		Symbol:        sym,
		Name:          info.name,
		Sector:        info.sector,
		Price:         price,
		Change:        change,
		ChangePercent: round2(changePct),
		Volume:        int64(1e6 + m.unit(sym, "volume", day)*9e7),
		MarketCap:     price * shares,
		PERatio:       round2(8 + m.unit(sym, "pe")*52),
		High52Week:    math.Max(high, price),
		Low52Week:     math.Min(low, price),
		AsOf:          now,
	}, nil
}

// Indices returns simulated index levels.
func (m *SimulatedMarket) Indices(ctx context.Context) ([]Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	day := m.dayKey(m.now())
	out := make([]Index, 0, len(indexBases))
	for _, idx := range indexBases {
		pct := (m.unit(idx.name, "index", day) - 0.5) * 3
		value := round2(idx.base * (1 + pct/100))
		out = append(out, Index{
			Name:          idx.name,
			Value:         value,
			Change:        round2(value - idx.base),
			ChangePercent: round2(pct),
		})
	}
	return out, nil
}

// Sectors returns simulated sector performance.
func (m *SimulatedMarket) Sectors(ctx context.Context) ([]SectorPerformance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	day := m.dayKey(m.now())
	out := make([]SectorPerformance, 0, len(sectorNames))
	for _, name := range sectorNames {
		out = append(out, SectorPerformance{
			Name:          name,
			ChangePercent: round2((m.unit(name, "sector", day) - 0.5) * 4),
		})
	}
	return out, nil
}

func (m *SimulatedMarket) dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// unit maps the seed and parts onto [0, 1).
func (m *SimulatedMarket) unit(parts ...string) float64 {
	h := fnv.New64a()
	var seed [8]byte
	for i := range seed {
		seed[i] = byte(m.seed >> (8 * i))
	}
	h.Write(seed[:])
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return float64(h.Sum64()>>11) / float64(1<<53)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
