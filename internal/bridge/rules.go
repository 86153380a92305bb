// ABOUTME: Ordered pattern rules translating free text into exactly one tool call.
// ABOUTME: The first matching rule wins; unmatched text falls back to the chat tool.

package bridge

import (
	"regexp"
	"strings"
	"unicode"
)

// Route is the tool call chosen for a message.
type Route struct {
	Rule string
	Tool string
	Args map[string]any
}

// Rule matches a normalized message and builds its route.
type Rule struct {
	Name  string
	Match func(text string) (Route, bool)
}

// Tool names the default rules route to.
const (
	ToolQuotes    = "get-stock-quotes"
	ToolSummary   = "get-market-summary"
	ToolAnalysis  = "get-financial-analysis"
	ToolAdvice    = "get-investment-advice"
	ToolHelp      = "help"
	ToolChat      = "chat"
	fallbackRule  = "chat"
	maxRouteWords = 12
)

var (
	analysisPattern = regexp.MustCompile(`(?i)^\s*(?:analy[sz]e|analysis(?:\s+(?:of|for))?|research)\s+\$?([a-z][a-z.]{0,5})\s*[?!.]*\s*$`)
	cashtagPattern  = regexp.MustCompile(`^\s*\$([A-Za-z][A-Za-z.]{0,5})\s*[?!.]*\s*$`)
	quotesPattern   = regexp.MustCompile(`(?i)^\s*(?:quotes?|prices?)(?:\s+(?:of|for))?((?:[\s,]+[^\s,]+)*?)[\s,]*[?!.]*\s*$`)
	summaryPattern  = regexp.MustCompile(`(?i)\b(?:market\s+(?:summary|overview|update)|how(?:'s|\s+is|\s+are)\s+the\s+markets?|markets?\s+today|indices)\b`)
	advicePattern   = regexp.MustCompile(`(?i)\b(?:advice|advise|invest(?:ing|ment)?|portfolio|recommend(?:ation)?s?|should\s+i\s+buy)\b`)
	riskPattern     = regexp.MustCompile(`(?i)\b(conservative|moderate|aggressive)\b`)
	greetingPattern = regexp.MustCompile(`(?i)^\s*(?:hi|hello|hey|help|start|menu|commands|\?)\s*[!.?]*\s*$`)
)

// tickerPattern accepts a symbol typed in uppercase, or in any case behind a cashtag.
var tickerPattern = regexp.MustCompile(`^(?:\$([A-Za-z][A-Za-z.]{0,5})|([A-Z][A-Z.]{0,5}))$`)

// DefaultRules returns the built-in rule set in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "analysis", Match: matchAnalysis},
		{Name: "quotes", Match: matchQuotes},
		{Name: "summary", Match: matchSummary},
		{Name: "advice", Match: matchAdvice},
		{Name: "help", Match: matchGreeting},
	}
}

// Resolve applies rules in order and falls back to the chat tool.
func Resolve(rules []Rule, text string) Route {
	text = strings.TrimSpace(text)
	for _, rule := range rules {
		if route, ok := rule.Match(text); ok {
			route.Rule = rule.Name
			return route
		}
	}
	return Route{Rule: fallbackRule, Tool: ToolChat, Args: map[string]any{"message": text}}
}

func matchAnalysis(text string) (Route, bool) {
	m := analysisPattern.FindStringSubmatch(text)
	if m == nil {
		m = cashtagPattern.FindStringSubmatch(text)
	}
	if m == nil {
		return Route{}, false
	}
	return Route{Tool: ToolAnalysis, Args: map[string]any{"symbol": strings.ToUpper(m[1])}}, true
}

func matchQuotes(text string) (Route, bool) {
	m := quotesPattern.FindStringSubmatch(text)
	if m == nil {
		return Route{}, false
	}
	args := map[string]any{}
	var symbols []string
	for _, word := range strings.FieldsFunc(m[1], func(r rune) bool { return r == ',' || unicode.IsSpace(r) }) {
		t := tickerPattern.FindStringSubmatch(strings.TrimRight(word, "?!."))
		if t == nil {
			// "quote of the day", "price check": not a ticker request
			return Route{}, false
		}
		symbols = append(symbols, strings.ToUpper(t[1]+t[2]))
	}
	if len(symbols) > 0 {
		args["symbols"] = symbols
	}
	return Route{Tool: ToolQuotes, Args: args}, true
}

func matchSummary(text string) (Route, bool) {
	if len(strings.Fields(text)) > maxRouteWords || !summaryPattern.MatchString(text) {
		return Route{}, false
	}
	return Route{Tool: ToolSummary, Args: map[string]any{}}, true
}

func matchAdvice(text string) (Route, bool) {
	if len(strings.Fields(text)) > maxRouteWords || !advicePattern.MatchString(text) {
		return Route{}, false
	}
	args := map[string]any{}
	if m := riskPattern.FindStringSubmatch(text); m != nil {
		args["riskTolerance"] = strings.ToLower(m[1])
	}
	return Route{Tool: ToolAdvice, Args: args}, true
}

func matchGreeting(text string) (Route, bool) {
	if !greetingPattern.MatchString(text) {
		return Route{}, false
	}
	return Route{Tool: ToolHelp, Args: map[string]any{}}, true
}
