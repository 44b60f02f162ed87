package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campaign_watch/internal/filter"
	"campaign_watch/internal/merge"
	"campaign_watch/internal/model"
	"campaign_watch/internal/stream"
	"campaign_watch/internal/timeparse"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Campaign Watch!

Collect review campaigns from the crawler and get an alarm right before they open.

Quick start:
1. /crawl <days> — start a crawl (e.g. /crawl 15,16)
2. /list hidden — browse hidden campaigns
3. /arm <csq> — get notified 3 minutes before participation opens

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Crawling:
/crawl <days> [<start>-<end>] [-x kw,kw] — start a crawl
/crawl — repeat the last crawl
/stop — cancel the running crawl
/status — crawler state and counts

Campaigns:
/list <hidden|public> [keyword] — show a channel
  -x <kw> excludes, re:<pattern> / -re:<pattern> match or drop by regex
  mall:<name> keeps one mall, sort:price or sort:-price orders by price
/malls <hidden|public> — malls present in a channel
/delete <hidden|public> <n> — remove entry n from a channel
/clear <hidden|public> — empty a channel
/fav <csq> — pin or unpin a campaign
/favs — show pinned campaigns

Alarms:
/arm <csq> [1-5] [tab|notab] — alarm before participation (default 3 min, opens link)
/disarm <csq> — remove an alarm
/alarms — show armed alarms

Days are days of the month, comma separated. Without a range the full id range is crawled.`)
}

func (b *Bot) handleCrawl(ctx context.Context, chatID int64, args string) {
	if b.cfg.SessionCookie == "" {
		b.reply(chatID, "SESSION_COOKIE is not configured.")
		return
	}

	var ca CrawlArgs
	if args == "" {
		p := b.sess.Params()
		if len(p.SelectedDays) == 0 {
			b.reply(chatID, "Usage: /crawl <days> [<start>-<end>] [-x kw,kw]")
			return
		}
		ca = CrawlArgs{
			Days:      p.SelectedDays,
			Exclude:   p.ExcludeKeywords,
			FullRange: p.UseFullRange,
			StartID:   p.StartID,
			EndID:     p.EndID,
		}
	} else {
		var err error
		ca, err = ParseCrawlArgs(args)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v\nUsage: /crawl <days> [<start>-<end>] [-x kw,kw]", err))
			return
		}
	}

	req := ca.Request(b.cfg.SessionCookie)
	results, err := b.crawler.Start(ctx, req)
	if errors.Is(err, stream.ErrBusy) {
		b.reply(chatID, "A crawl is already running. Use /stop to cancel it.")
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to start crawl: %v", err))
		return
	}
	b.sess.SetParams(req.Params())

	rangeText := "full range"
	if !ca.FullRange {
		rangeText = fmt.Sprintf("ids %d-%d", ca.StartID, ca.EndID)
	}
	b.reply(chatID, fmt.Sprintf("Crawl started: days %s, %s.", strings.Join(ca.Days, ","), rangeText))

	go b.awaitCrawl(chatID, results)
}

func (b *Bot) awaitCrawl(chatID int64, results <-chan stream.Result) {
	res, ok := <-results
	if !ok {
		return
	}
	hiddenRecs := b.sess.Records(model.ChannelRestricted)
	publicRecs := b.sess.Records(model.ChannelPublic)
	text := FormatCrawlResult(res, len(hiddenRecs), len(publicRecs))

	loc := b.cfg.Location()
	year := timeparse.Year(b.cfg.AnchorYear, time.Now(), loc)
	unparseable := len(merge.Unparseable(hiddenRecs, year, loc)) + len(merge.Unparseable(publicRecs, year, loc))
	if unparseable > 0 {
		b.log.Warn("records with unparseable participation time", "count", unparseable)
		text += fmt.Sprintf("\n%d campaigns have an unreadable participation time; alarms for them never fire.", unparseable)
	}
	b.reply(chatID, text)
}

func (b *Bot) handleStop(chatID int64) {
	if b.crawler.State() == stream.StateIdle {
		b.reply(chatID, "No crawl is running.")
		return
	}
	b.crawler.Close()
	b.reply(chatID, "Stopping crawl...")
}

func (b *Bot) handleStatus(chatID int64) {
	b.reply(chatID, FormatStatus(StatusInfo{
		State:     b.crawler.State(),
		Hidden:    len(b.sess.Records(model.ChannelRestricted)),
		Public:    len(b.sess.Records(model.ChannelPublic)),
		Alarms:    len(b.sess.Alarms()),
		Favorites: len(b.sess.Favorites()),
		Params:    b.sess.Params(),
	}))
}

func (b *Bot) handleList(chatID int64, args string) {
	a, err := ParseListArgs(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	records := b.sess.Records(a.Channel)
	position := make(map[string]int, len(records))
	for i, r := range records {
		position[r.CSQ()] = i + 1
	}

	matched := filter.Apply(records, a.Rules)
	if a.Mall != "" {
		matched = filter.Apply(matched, []filter.Rule{{Kind: filter.Include, Scope: filter.ScopeMall, Value: a.Mall}})
	}
	switch a.Order {
	case OrderPriceAsc:
		matched = filter.SortByPrice(matched, true)
	case OrderPriceDesc:
		matched = filter.SortByPrice(matched, false)
	}

	entries := make([]Entry, 0, len(matched))
	for _, r := range matched {
		entries = append(entries, Entry{Index: position[r.CSQ()], Record: r})
	}
	b.reply(chatID, FormatRecordList(channelLabel(a.Channel), entries, b.armedSet()))
}

func (b *Bot) handleMalls(chatID int64, args string) {
	ch, err := ParseChannelArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v\nUsage: /malls <hidden|public>", err))
		return
	}
	malls := filter.Malls(b.sess.Records(ch))
	if len(malls) == 0 {
		b.reply(chatID, fmt.Sprintf("No malls in %s.", strings.ToLower(channelLabel(ch))))
		return
	}
	b.reply(chatID, fmt.Sprintf("Malls in %s (%d):\n%s", strings.ToLower(channelLabel(ch)), len(malls), strings.Join(malls, "\n")))
}

func (b *Bot) handleClear(chatID int64, args string) {
	ch, err := ParseChannelArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v\nUsage: /clear <hidden|public>", err))
		return
	}
	n := len(b.sess.Records(ch))
	if err := b.sess.Clear(ch); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Cleared %d %s.", n, strings.ToLower(channelLabel(ch))))
}

func (b *Bot) handleDelete(chatID int64, args string) {
	ch, idx, err := ParseDeleteArgs(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	removed, err := b.sess.Delete(ch, idx)
	if err != nil {
		if errors.Is(err, merge.ErrIndexOutOfRange) {
			b.reply(chatID, fmt.Sprintf("No entry %d in %s.", idx+1, strings.ToLower(channelLabel(ch))))
			return
		}
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Deleted %d. %s", idx+1, removed.Title))
}

func (b *Bot) handleArm(chatID int64, args string) {
	a, err := ParseArmArgs(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v\nUsage: /arm <csq> [minutes] [tab|notab]", err))
		return
	}

	rec, ok := b.sess.Find(a.CSQ)
	if !ok {
		b.reply(chatID, fmt.Sprintf("Campaign csq %s not found. Use /list to see campaigns.", a.CSQ))
		return
	}
	if err := b.sess.Arm(rec, a.LeadMinutes, a.NewTab); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to arm alarm: %v", err))
		return
	}

	text := fmt.Sprintf("Alarm armed for csq %s: %s\nFires %d min before %s.", a.CSQ, rec.Title, a.LeadMinutes, rec.ParticipationTime)
	loc := b.cfg.Location()
	if _, ok := timeparse.Parse(rec.ParticipationTime, timeparse.Year(b.cfg.AnchorYear, time.Now(), loc), loc); !ok {
		text += "\nWarning: the participation time cannot be parsed, so this alarm will never fire."
	}
	b.replyWithKeyboard(chatID, text, recordKeyboard(a.CSQ, true))
}

func (b *Bot) handleDisarm(chatID int64, args string) {
	csq, err := ParseCSQArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /disarm <csq>")
		return
	}
	if !b.sess.Disarm(csq) {
		b.reply(chatID, fmt.Sprintf("No alarm armed for csq %s.", csq))
		return
	}
	b.reply(chatID, fmt.Sprintf("Alarm for csq %s disarmed.", csq))
}

func (b *Bot) handleAlarms(chatID int64) {
	b.reply(chatID, FormatAlarmList(b.sess.Alarms()))
}

func (b *Bot) handleFav(chatID int64, args string) {
	csq, err := ParseCSQArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /fav <csq>")
		return
	}

	rec, ok := b.sess.Find(csq)
	if !ok {
		b.reply(chatID, fmt.Sprintf("Campaign csq %s not found. Use /list to see campaigns.", csq))
		return
	}
	pinned, err := b.sess.ToggleFavorite(rec)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if pinned {
		b.replyWithKeyboard(chatID, fmt.Sprintf("Added to favorites: %s", rec.Title), recordKeyboard(csq, b.sess.IsArmed(csq)))
		return
	}
	b.reply(chatID, fmt.Sprintf("Removed from favorites: %s", rec.Title))
}

func (b *Bot) handleFavs(chatID int64) {
	var entries []Entry
	for i, r := range b.sess.Favorites() {
		entries = append(entries, Entry{Index: i + 1, Record: r})
	}
	b.reply(chatID, FormatRecordList("Favorites", entries, b.armedSet()))
}

func (b *Bot) armedSet() map[string]bool {
	armed := make(map[string]bool)
	for _, a := range b.sess.Alarms() {
		armed[a.CSQ] = true
	}
	return armed
}
