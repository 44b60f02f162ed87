package bot

import (
	"fmt"
	"strconv"
	"strings"

	"campaign_watch/internal/filter"
	"campaign_watch/internal/model"
	"campaign_watch/internal/stream"
)

// Alarm defaults used when /arm omits them.
const (
	defaultLeadMinutes = 3
	defaultNewTab      = true
)

// CrawlArgs holds the parsed arguments of /crawl.
type CrawlArgs struct {
	Days      []string
	Exclude   []string
	FullRange bool
	StartID   int
	EndID     int
}

// Request builds the stream request for the given session cookie.
func (a CrawlArgs) Request(cookie string) stream.Request {
	return stream.Request{
		SessionCookie:   cookie,
		SelectedDays:    a.Days,
		ExcludeKeywords: a.Exclude,
		UseFullRange:    a.FullRange,
		StartID:         a.StartID,
		EndID:           a.EndID,
	}
}

// ParseCrawlArgs parses arguments for /crawl.
// Format: <day,day,...> [<start>-<end>] [-x keyword,keyword]
// Without a range the crawler scans the full range.
func ParseCrawlArgs(args string) (CrawlArgs, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return CrawlArgs{}, fmt.Errorf("usage: <days> [<start>-<end>] [-x kw,kw]")
	}

	out := CrawlArgs{Days: splitList(parts[0]), FullRange: true}
	if len(out.Days) == 0 {
		return CrawlArgs{}, fmt.Errorf("at least one day is required")
	}
	for _, d := range out.Days {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 || n > 31 {
			return CrawlArgs{}, fmt.Errorf("invalid day %q", d)
		}
	}

	rest := parts[1:]
	for len(rest) > 0 {
		switch {
		case rest[0] == "-x":
			if len(rest) < 2 {
				return CrawlArgs{}, fmt.Errorf("-x needs a keyword list")
			}
			out.Exclude = append(out.Exclude, splitList(rest[1])...)
			rest = rest[2:]
		case strings.Contains(rest[0], "-"):
			start, end, err := parseRange(rest[0])
			if err != nil {
				return CrawlArgs{}, err
			}
			out.FullRange, out.StartID, out.EndID = false, start, end
			rest = rest[1:]
		default:
			return CrawlArgs{}, fmt.Errorf("unexpected argument %q", rest[0])
		}
	}
	return out, nil
}

func parseRange(s string) (int, int, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	start, err := strconv.Atoi(lo)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start %q", lo)
	}
	end, err := strconv.Atoi(hi)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end %q", hi)
	}
	if start > end {
		return 0, 0, fmt.Errorf("range start %d is greater than end %d", start, end)
	}
	return start, end, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PriceOrder selects how /list orders its entries.
type PriceOrder int

const (
	// OrderChannel keeps the channel's participation time order.
	OrderChannel PriceOrder = iota
	OrderPriceAsc
	OrderPriceDesc
)

// ListArgs holds the parsed arguments of /list.
type ListArgs struct {
	Channel model.Channel
	// Rules are keyword and pattern conditions. Includes match any,
	// excludes must all miss.
	Rules []filter.Rule
	// Mall, when set, must also match.
	Mall  string
	Order PriceOrder
}

const listUsage = "usage: /list <hidden|public> [keyword] [-x kw] [re:pattern] [-re:pattern] [mall:name] [sort:price|-price]"

// ParseListArgs parses arguments for /list. Plain words form a single
// keyword.
func ParseListArgs(args string) (ListArgs, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return ListArgs{}, fmt.Errorf(listUsage)
	}
	ch, ok := model.ParseChannel(parts[0])
	if !ok {
		return ListArgs{}, fmt.Errorf("unknown channel %q, use hidden or public", parts[0])
	}

	out := ListArgs{Channel: ch}
	var words []string
	rest := parts[1:]
	for len(rest) > 0 {
		tok := rest[0]
		rest = rest[1:]
		switch {
		case tok == "-x":
			if len(rest) == 0 {
				return ListArgs{}, fmt.Errorf("-x needs a keyword")
			}
			out.Rules = append(out.Rules, filter.Rule{Kind: filter.Exclude, Scope: filter.ScopeAll, Value: rest[0]})
			rest = rest[1:]
		case strings.HasPrefix(tok, "-re:"):
			rule, err := regexRule(filter.ExcludeRe, strings.TrimPrefix(tok, "-re:"))
			if err != nil {
				return ListArgs{}, err
			}
			out.Rules = append(out.Rules, rule)
		case strings.HasPrefix(tok, "re:"):
			rule, err := regexRule(filter.IncludeRe, strings.TrimPrefix(tok, "re:"))
			if err != nil {
				return ListArgs{}, err
			}
			out.Rules = append(out.Rules, rule)
		case strings.HasPrefix(tok, "mall:"):
			out.Mall = strings.TrimPrefix(tok, "mall:")
			if out.Mall == "" {
				return ListArgs{}, fmt.Errorf("mall: needs a name")
			}
		case strings.HasPrefix(tok, "sort:"):
			switch strings.ToLower(strings.TrimPrefix(tok, "sort:")) {
			case "price":
				out.Order = OrderPriceAsc
			case "-price":
				out.Order = OrderPriceDesc
			default:
				return ListArgs{}, fmt.Errorf("unknown sort %q, use sort:price or sort:-price", tok)
			}
		default:
			words = append(words, tok)
		}
	}
	if len(words) > 0 {
		out.Rules = append(out.Rules, filter.Keyword(strings.Join(words, " ")))
	}
	return out, nil
}

func regexRule(kind filter.Kind, pattern string) (filter.Rule, error) {
	if pattern == "" {
		return filter.Rule{}, fmt.Errorf("empty pattern")
	}
	if err := filter.ValidateRegex(pattern); err != nil {
		return filter.Rule{}, err
	}
	return filter.Rule{Kind: kind, Scope: filter.ScopeAll, Value: pattern}, nil
}

// ParseChannelArg parses a lone channel argument.
func ParseChannelArg(args string) (model.Channel, error) {
	parts := strings.Fields(args)
	if len(parts) != 1 {
		return "", fmt.Errorf("expected one channel, hidden or public")
	}
	ch, ok := model.ParseChannel(parts[0])
	if !ok {
		return "", fmt.Errorf("unknown channel %q, use hidden or public", parts[0])
	}
	return ch, nil
}

// ParseDeleteArgs parses arguments for /delete and returns the channel and
// the zero-based position. Users count from 1.
func ParseDeleteArgs(args string) (model.Channel, int, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("usage: /delete <hidden|public> <index>")
	}
	ch, ok := model.ParseChannel(parts[0])
	if !ok {
		return "", 0, fmt.Errorf("unknown channel %q, use hidden or public", parts[0])
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("invalid index %q", parts[1])
	}
	return ch, n - 1, nil
}

// ArmArgs holds the parsed arguments of /arm.
type ArmArgs struct {
	CSQ         string
	LeadMinutes int
	NewTab      bool
}

// ParseArmArgs parses arguments for /arm.
// Format: <csq> [minutes] [tab|notab]
func ParseArmArgs(args string) (ArmArgs, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return ArmArgs{}, fmt.Errorf("usage: /arm <csq> [minutes] [tab|notab]")
	}
	csq, err := ParseCSQArg(parts[0])
	if err != nil {
		return ArmArgs{}, err
	}

	out := ArmArgs{CSQ: csq, LeadMinutes: defaultLeadMinutes, NewTab: defaultNewTab}
	for _, p := range parts[1:] {
		switch strings.ToLower(p) {
		case "tab":
			out.NewTab = true
		case "notab":
			out.NewTab = false
		default:
			n, err := strconv.Atoi(p)
			if err != nil || n < model.MinLeadMinutes || n > model.MaxLeadMinutes {
				return ArmArgs{}, fmt.Errorf("lead time must be between %d and %d minutes", model.MinLeadMinutes, model.MaxLeadMinutes)
			}
			out.LeadMinutes = n
		}
	}
	return out, nil
}

// ParseCSQArg extracts a campaign id from a bare number or a campaign URL.
func ParseCSQArg(args string) (string, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return "", fmt.Errorf("campaign id is required")
	}
	s = strings.Fields(s)[0]
	if csq := model.ExtractCSQ(s); csq != "" {
		return csq, nil
	}
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return "", fmt.Errorf("invalid campaign id %q", s)
	}
	return s, nil
}
