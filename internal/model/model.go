// Package model defines the domain types used across the application.
package model

import (
	"regexp"
	"strings"
)

// FieldSeparator joins the eight fields of a record on the wire.
const FieldSeparator = " & "

// RecordFields is the number of fields in a serialized record.
const RecordFields = 8

var csqPattern = regexp.MustCompile(`csq=(\d+)`)

// Record is a single campaign result pushed by the crawler.
type Record struct {
	Category          string `json:"type"`
	Review            string `json:"review"`
	Mall              string `json:"mall"`
	Price             string `json:"price"`
	Point             string `json:"point"`
	ParticipationTime string `json:"participation_time"`
	Title             string `json:"title"`
	URL               string `json:"url"`
}

// CSQ returns the campaign identifier embedded in the record URL,
// or an empty string when the URL carries none.
func (r Record) CSQ() string {
	return ExtractCSQ(r.URL)
}

// Line serializes the record in wire order.
func (r Record) Line() string {
	return strings.Join([]string{
		r.Category, r.Review, r.Mall, r.Price, r.Point,
		r.ParticipationTime, r.Title, r.URL,
	}, FieldSeparator)
}

// ExtractCSQ pulls the csq identifier out of s.
func ExtractCSQ(s string) string {
	m := csqPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// Channel names one of the two result collections.
type Channel string

// Supported channels. The restricted channel is called "hidden" on the wire.
const (
	ChannelRestricted Channel = "hidden"
	ChannelPublic     Channel = "public"
)

// Channels lists every channel in display order.
var Channels = []Channel{ChannelRestricted, ChannelPublic}

// ParseChannel maps a user or wire name to a Channel.
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hidden", "restricted":
		return ChannelRestricted, true
	case "public":
		return ChannelPublic, true
	}
	return "", false
}

// Lead time bounds for alarms, in minutes.
const (
	MinLeadMinutes = 1
	MaxLeadMinutes = 5
)

// Alarm is a reminder armed for a single campaign.
type Alarm struct {
	CSQ               string `json:"csq"`
	ParticipationTime string `json:"time"`
	Title             string `json:"title"`
	URL               string `json:"url"`
	LeadMinutes       int    `json:"offset"`
	OpenInNewTab      bool   `json:"newTab"`
}

// CrawlParams are the last-used crawl parameters. The session cookie is
// never written to disk and has no field here.
type CrawlParams struct {
	SelectedDays    []string `json:"selected_days"`
	ExcludeKeywords []string `json:"exclude_keywords"`
	UseFullRange    bool     `json:"use_full_range"`
	StartID         int      `json:"start_id,omitempty"`
	EndID           int      `json:"end_id,omitempty"`
}
