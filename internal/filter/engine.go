// Package filter implements the campaign record matching engine.
package filter

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"campaign_watch/internal/model"
	"campaign_watch/internal/timeparse"
)

// Kind is the rule type.
type Kind string

const (
	Include   Kind = "include"
	Exclude   Kind = "exclude"
	IncludeRe Kind = "include_re"
	ExcludeRe Kind = "exclude_re"
)

// Scope selects the record text a rule is matched against.
type Scope string

const (
	ScopeTitle    Scope = "title"
	ScopeMall     Scope = "mall"
	ScopeCategory Scope = "category"
	ScopeAll      Scope = "all"
)

// Rule is a single include or exclude condition.
type Rule struct {
	Kind  Kind
	Scope Scope
	Value string
}

// Keyword returns a rule matching kw anywhere in the record, the way the
// listing search box works.
func Keyword(kw string) Rule {
	return Rule{Kind: Include, Scope: ScopeAll, Value: kw}
}

// Match checks whether a record passes the given set of rules.
// If no rules are provided, the record always passes.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func Match(rec model.Record, rules []Rule) bool {
	if len(rules) == 0 {
		return true
	}

	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range rules {
		switch r.Kind {
		case Include, IncludeRe:
			hasIncludes = true
			if matchesRule(rec, r) {
				anyIncludeMatched = true
			}
		case Exclude, ExcludeRe:
			if matchesRule(rec, r) {
				return false
			}
		}
	}

	if hasIncludes && !anyIncludeMatched {
		return false
	}
	return true
}

// Apply returns the records that pass rules, preserving order.
func Apply(records []model.Record, rules []Rule) []model.Record {
	var out []model.Record
	for _, rec := range records {
		if Match(rec, rules) {
			out = append(out, rec)
		}
	}
	return out
}

func matchesRule(rec model.Record, r Rule) bool {
	text := textForScope(rec, r.Scope)
	switch r.Kind {
	case Include, Exclude:
		return strings.Contains(text, strings.ToLower(r.Value))
	case IncludeRe, ExcludeRe:
		re, err := regexp.Compile("(?i)" + r.Value)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	}
	return false
}

func textForScope(rec model.Record, scope Scope) string {
	switch scope {
	case ScopeTitle:
		return strings.ToLower(rec.Title)
	case ScopeMall:
		return strings.ToLower(rec.Mall)
	case ScopeCategory:
		return strings.ToLower(rec.Category)
	default:
		return strings.ToLower(strings.Join([]string{rec.Title, rec.Review, rec.Mall, rec.Category}, " "))
	}
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}

// Upcoming drops records whose participation time is not after now.
// Records with an unparseable time are kept.
func Upcoming(records []model.Record, now time.Time, year int, loc *time.Location) []model.Record {
	var out []model.Record
	for _, rec := range records {
		t, ok := timeparse.Parse(rec.ParticipationTime, year, loc)
		if ok && !t.After(now) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// PriceValue extracts the numeric value of a price such as "15,000원".
// Prices without digits are 0.
func PriceValue(price string) int {
	var b strings.Builder
	for _, r := range price {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return n
}

// SortByPrice returns a copy of records ordered by price, ascending or
// descending. Equal prices keep their relative order.
func SortByPrice(records []model.Record, asc bool) []model.Record {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b model.Record) int {
		d := PriceValue(a.Price) - PriceValue(b.Price)
		if !asc {
			d = -d
		}
		return d
	})
	return out
}

// Malls lists the distinct non-empty malls in first-seen order.
func Malls(records []model.Record) []string {
	var out []string
	seen := make(map[string]bool)
	for _, rec := range records {
		if rec.Mall == "" || seen[rec.Mall] {
			continue
		}
		seen[rec.Mall] = true
		out = append(out, rec.Mall)
	}
	return out
}
