package fetcher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"campaign_watch/internal/filter"
	"campaign_watch/internal/model"
	"campaign_watch/internal/timeparse"
)

// DefaultPollInterval matches the refresh period of the public listing.
const DefaultPollInterval = time.Minute

// Merger stores fetched records.
type Merger interface {
	Merge(ch model.Channel, rec model.Record) error
}

// Poller periodically loads a public snapshot into the public channel.
// Campaigns whose participation time has already passed are dropped.
type Poller struct {
	fetcher    *Fetcher
	merger     Merger
	log        *slog.Logger
	url        string
	site       string
	interval   time.Duration
	anchorYear int
	loc        *time.Location
	now        func() time.Time
}

// NewPoller creates a Poller for url. URLs ending in .json are decoded as
// snapshots; anything else is parsed as a listing page of site.
func NewPoller(f *Fetcher, m Merger, url, site string, log *slog.Logger) *Poller {
	return &Poller{
		fetcher:  f,
		merger:   m,
		log:      log,
		url:      url,
		site:     site,
		interval: DefaultPollInterval,
		loc:      time.Local,
		now:      time.Now,
	}
}

// SetInterval overrides the default refresh period.
func (p *Poller) SetInterval(d time.Duration) {
	p.interval = d
}

// SetTime configures how participation times are resolved.
func (p *Poller) SetTime(anchorYear int, loc *time.Location) {
	p.anchorYear = anchorYear
	if loc != nil {
		p.loc = loc
	}
}

// Run refreshes immediately and then on every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

// Refresh loads the snapshot once and returns the number of merged records.
func (p *Poller) Refresh(ctx context.Context) (int, error) {
	var (
		rows []Row
		err  error
	)
	if strings.HasSuffix(strings.ToLower(p.url), ".json") {
		rows, err = p.fetcher.Fetch(ctx, p.url)
	} else {
		rows, err = p.fetcher.FetchPage(ctx, p.url, p.site)
	}
	if err != nil {
		return 0, err
	}

	now := p.now()
	records := filter.Upcoming(Records(rows), now, timeparse.Year(p.anchorYear, now, p.loc), p.loc)

	merged := 0
	for _, rec := range records {
		if err := p.merger.Merge(model.ChannelPublic, rec); err != nil {
			p.log.Warn("snapshot record rejected", "csq", rec.CSQ(), "error", err)
			continue
		}
		merged++
	}
	return merged, nil
}

func (p *Poller) refresh(ctx context.Context) {
	n, err := p.Refresh(ctx)
	if err != nil {
		p.log.Error("snapshot refresh failed", "url", p.url, "error", err)
		return
	}
	p.log.Info("snapshot refreshed", "url", p.url, "merged", n)
}
