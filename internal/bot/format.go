package bot

import (
	"fmt"
	"strings"

	"campaign_watch/internal/model"
	"campaign_watch/internal/notify"
	"campaign_watch/internal/stream"
)

// maxListEntries caps list replies below Telegram's message size limit.
const maxListEntries = 30

// Entry is a record with its 1-based position in its channel.
type Entry struct {
	Index  int
	Record model.Record
}

// FormatAlert formats a fired alarm as a Telegram message.
func FormatAlert(a notify.Alert) string {
	var b strings.Builder
	b.WriteString(a.Title)
	if a.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(a.Body)
	}
	if a.URL != "" {
		b.WriteString("\n\n")
		b.WriteString(a.URL)
	}
	return b.String()
}

// FormatRecordList formats channel entries for display. Entries whose csq
// is in armed get an alarm marker.
func FormatRecordList(header string, entries []Entry, armed map[string]bool) string {
	if len(entries) == 0 {
		return header + ": no campaigns."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d):\n", header, len(entries))
	for i, e := range entries {
		if i == maxListEntries {
			fmt.Fprintf(&b, "\n...and %d more. Narrow the list with a keyword.\n", len(entries)-maxListEntries)
			break
		}
		r := e.Record
		marker := ""
		if armed[r.CSQ()] {
			marker = " ⏰"
		}
		fmt.Fprintf(&b, "\n%d. [%s] %s%s\n", e.Index, r.ParticipationTime, r.Title, marker)
		fmt.Fprintf(&b, "   %s\n", detailLine(r))
		fmt.Fprintf(&b, "   csq %s\n", r.CSQ())
	}
	return b.String()
}

func detailLine(r model.Record) string {
	var parts []string
	for _, s := range []string{r.Mall, r.Price, r.Point, r.Category, r.Review} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " · ")
}

// FormatAlarmList formats armed alarms for display.
func FormatAlarmList(alarms []model.Alarm) string {
	if len(alarms) == 0 {
		return "No alarms armed. Use /arm <csq> to add one."
	}
	var b strings.Builder
	b.WriteString("Armed alarms:\n")
	for _, a := range alarms {
		tab := ""
		if a.OpenInNewTab {
			tab = ", opens link"
		}
		fmt.Fprintf(&b, "\ncsq %s [%s] %s\n   %d min before%s\n", a.CSQ, a.ParticipationTime, a.Title, a.LeadMinutes, tab)
	}
	return b.String()
}

// FormatCrawlResult formats the end of a crawl session.
func FormatCrawlResult(res stream.Result, hidden, public int) string {
	switch res.Status {
	case stream.StatusDone:
		return fmt.Sprintf("Crawl finished: %d records received.\nHidden: %d, public: %d", res.Records, hidden, public)
	case stream.StatusCancelled:
		return fmt.Sprintf("Crawl cancelled after %d records.", res.Records)
	default:
		return fmt.Sprintf("Crawl failed after %d records: %v", res.Records, res.Err)
	}
}

// StatusInfo is the snapshot shown by /status.
type StatusInfo struct {
	State     stream.State
	Hidden    int
	Public    int
	Alarms    int
	Favorites int
	Params    model.CrawlParams
}

// FormatStatus formats the session overview.
func FormatStatus(s StatusInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Crawler: %s\n", s.State)
	fmt.Fprintf(&b, "Hidden campaigns: %d\n", s.Hidden)
	fmt.Fprintf(&b, "Public campaigns: %d\n", s.Public)
	fmt.Fprintf(&b, "Alarms: %d\n", s.Alarms)
	fmt.Fprintf(&b, "Favorites: %d\n", s.Favorites)
	if len(s.Params.SelectedDays) > 0 {
		fmt.Fprintf(&b, "\nLast crawl: days %s", strings.Join(s.Params.SelectedDays, ","))
		if s.Params.UseFullRange {
			b.WriteString(", full range")
		} else {
			fmt.Fprintf(&b, ", ids %d-%d", s.Params.StartID, s.Params.EndID)
		}
		if len(s.Params.ExcludeKeywords) > 0 {
			fmt.Fprintf(&b, ", excluding %s", strings.Join(s.Params.ExcludeKeywords, ","))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func channelLabel(ch model.Channel) string {
	if ch == model.ChannelRestricted {
		return "Hidden campaigns"
	}
	return "Public campaigns"
}
