// Package session owns the live state shared by the stream client, the alarm
// scheduler and the presentation layer: both result channels, the armed
// alarms, favorites and the last crawl parameters.
//
// Every mutation is a single critical section. The new state is snapshotted
// inside it and handed to the Persister, which writes asynchronously.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"campaign_watch/internal/merge"
	"campaign_watch/internal/model"
	"campaign_watch/internal/storage"
	"campaign_watch/internal/timeparse"
)

var (
	// ErrUnknownChannel is returned for a channel other than hidden/public.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrInvalidLead is returned by Arm for a lead time outside [1,5] minutes.
	ErrInvalidLead = errors.New("lead minutes out of range")
)

// Persister receives serialized state after every mutation.
type Persister interface {
	Put(key string, value []byte)
}

// Reader is the read side of a storage.Store, used once at startup.
type Reader interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

var channelKeys = map[model.Channel]string{
	model.ChannelRestricted: storage.KeyHiddenResults,
	model.ChannelPublic:     storage.KeyPublicResults,
}

// Session is the process-wide state, passed explicitly to its users.
type Session struct {
	persist Persister
	log     *slog.Logger

	mu         sync.Mutex
	channels   map[model.Channel][]model.Record
	alarms     []model.Alarm
	favorites  []model.Record
	params     model.CrawlParams
	loc        *time.Location
	anchorYear int
}

// New returns an empty session.
func New(persist Persister, log *slog.Logger) *Session {
	return &Session{
		persist:  persist,
		log:      log,
		channels: make(map[model.Channel][]model.Record),
		loc:      time.Local,
	}
}

// Load builds a session from the state previously written to r.
// Entries that fail to decode are logged and skipped.
func Load(ctx context.Context, r Reader, persist Persister, log *slog.Logger) (*Session, error) {
	s := New(persist, log)

	for ch, key := range channelKeys {
		var lines []string
		ok, err := readJSON(ctx, r, log, key, &lines)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var records []model.Record
		for _, line := range lines {
			rec, err := merge.ParseRecord(line)
			if err != nil {
				log.Warn("skip stored record", "channel", ch, "error", err)
				continue
			}
			records, _ = merge.Merge(records, rec)
		}
		s.channels[ch] = records
	}

	var alarms []model.Alarm
	if _, err := readJSON(ctx, r, log, storage.KeyCampaignAlarms, &alarms); err != nil {
		return nil, err
	}
	for _, a := range alarms {
		if a.CSQ == "" {
			log.Warn("skip stored alarm without csq", "title", a.Title)
			continue
		}
		if a.LeadMinutes < model.MinLeadMinutes || a.LeadMinutes > model.MaxLeadMinutes {
			log.Warn("skip stored alarm with invalid lead", "csq", a.CSQ, "minutes", a.LeadMinutes)
			continue
		}
		s.alarms = upsertAlarm(s.alarms, a)
	}

	var favorites []model.Record
	if _, err := readJSON(ctx, r, log, storage.KeyFavorites, &favorites); err != nil {
		return nil, err
	}
	for _, f := range favorites {
		if f.CSQ() == "" {
			continue
		}
		s.favorites = upsertRecord(s.favorites, f)
	}

	if _, err := readJSON(ctx, r, log, storage.KeyCrawlParams, &s.params); err != nil {
		return nil, err
	}

	log.Info("session loaded",
		"hidden", len(s.channels[model.ChannelRestricted]),
		"public", len(s.channels[model.ChannelPublic]),
		"alarms", len(s.alarms),
		"favorites", len(s.favorites),
	)
	return s, nil
}

func readJSON(ctx context.Context, r Reader, log *slog.Logger, key string, dst any) (bool, error) {
	raw, ok, err := r.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn("discard corrupt state", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// SetLocation sets the time zone participation times are interpreted in.
func (s *Session) SetLocation(loc *time.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc != nil {
		s.loc = loc
	}
}

// SetAnchorYear fixes the year used to interpret participation times.
// Zero means the current year.
func (s *Session) SetAnchorYear(year int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchorYear = year
}

// Merge inserts rec into channel ch, replacing any record with the same csq.
func (s *Session) Merge(ch model.Channel, rec model.Record) error {
	key, ok := channelKeys[ch]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := merge.Merge(s.channels[ch], rec)
	if err != nil {
		return err
	}
	s.channels[ch] = next
	s.saveChannelLocked(ch, key)

	if _, ok := timeparse.Parse(rec.ParticipationTime, s.yearLocked(), s.loc); !ok {
		s.log.Warn("unparseable participation time", "channel", ch, "csq", rec.CSQ(), "time", rec.ParticipationTime)
	}
	return nil
}

// MergeLine decodes a wire record and merges it into channel ch.
func (s *Session) MergeLine(ch model.Channel, line string) error {
	rec, err := merge.ParseRecord(line)
	if err != nil {
		return err
	}
	return s.Merge(ch, rec)
}

// Delete removes the record at index from channel ch and returns it.
func (s *Session) Delete(ch model.Channel, index int) (model.Record, error) {
	key, ok := channelKeys[ch]
	if !ok {
		return model.Record{}, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.channels[ch]
	next, err := merge.Delete(records, index)
	if err != nil {
		return model.Record{}, err
	}
	removed := records[index]
	s.channels[ch] = next
	s.saveChannelLocked(ch, key)
	return removed, nil
}

// Clear empties channel ch.
func (s *Session) Clear(ch model.Channel) error {
	key, ok := channelKeys[ch]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch] = nil
	s.saveChannelLocked(ch, key)
	return nil
}

// Records returns a copy of channel ch.
func (s *Session) Records(ch model.Channel) []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.channels[ch])
}

// Find looks a csq up in both channels, then in favorites.
func (s *Session) Find(csq string) (model.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range model.Channels {
		if r, ok := merge.Find(s.channels[ch], csq); ok {
			return r, true
		}
	}
	return merge.Find(s.favorites, csq)
}

// Arm creates or replaces the alarm for rec.
func (s *Session) Arm(rec model.Record, leadMinutes int, openInNewTab bool) error {
	a, err := newAlarm(rec, leadMinutes, openInNewTab)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = upsertAlarm(s.alarms, a)
	s.saveAlarmsLocked()
	return nil
}

// Disarm removes the alarm for csq and reports whether one existed.
func (s *Session) Disarm(csq string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.alarms, func(a model.Alarm) bool { return a.CSQ == csq })
	if i < 0 {
		return false
	}
	s.alarms = slices.Delete(slices.Clone(s.alarms), i, i+1)
	s.saveAlarmsLocked()
	return true
}

// ToggleAlarm disarms rec's alarm when armed, and arms it otherwise.
// It reports whether the alarm is armed afterwards.
func (s *Session) ToggleAlarm(rec model.Record, leadMinutes int, openInNewTab bool) (bool, error) {
	a, err := newAlarm(rec, leadMinutes, openInNewTab)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := slices.IndexFunc(s.alarms, func(x model.Alarm) bool { return x.CSQ == a.CSQ }); i >= 0 {
		s.alarms = slices.Delete(slices.Clone(s.alarms), i, i+1)
		s.saveAlarmsLocked()
		return false, nil
	}
	s.alarms = upsertAlarm(s.alarms, a)
	s.saveAlarmsLocked()
	return true, nil
}

// Alarms returns a copy of the armed alarms.
func (s *Session) Alarms() []model.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.alarms)
}

// IsArmed reports whether an alarm exists for csq.
func (s *Session) IsArmed(csq string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.alarms, func(a model.Alarm) bool { return a.CSQ == csq })
}

// TakeAlarms removes the alarms selected by split in one critical section
// and returns them. split receives the current alarms and the time context
// (anchor year, location) and returns the taken and kept sets.
func (s *Session) TakeAlarms(now time.Time, split func(alarms []model.Alarm, year int, loc *time.Location) (taken, kept []model.Alarm)) []model.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()

	year := timeparse.Year(s.anchorYear, now, s.loc)
	taken, kept := split(slices.Clone(s.alarms), year, s.loc)
	if len(taken) == 0 {
		return nil
	}
	s.alarms = kept
	s.saveAlarmsLocked()
	return taken
}

// ToggleFavorite pins or unpins rec and reports whether it is pinned afterwards.
func (s *Session) ToggleFavorite(rec model.Record) (bool, error) {
	csq := rec.CSQ()
	if csq == "" {
		return false, fmt.Errorf("%w: no csq in url %q", merge.ErrMalformedRecord, rec.URL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pinned := true
	if i := slices.IndexFunc(s.favorites, func(r model.Record) bool { return r.CSQ() == csq }); i >= 0 {
		s.favorites = slices.Delete(slices.Clone(s.favorites), i, i+1)
		pinned = false
	} else {
		s.favorites = upsertRecord(s.favorites, rec)
	}
	s.saveLocked(storage.KeyFavorites, s.favorites)
	return pinned, nil
}

// Favorites returns a copy of the pinned records.
func (s *Session) Favorites() []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.favorites)
}

// SetParams records the last-used crawl parameters.
func (s *Session) SetParams(p model.CrawlParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	s.saveLocked(storage.KeyCrawlParams, p)
}

// Params returns the last-used crawl parameters.
func (s *Session) Params() model.CrawlParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *Session) yearLocked() int {
	return timeparse.Year(s.anchorYear, time.Now(), s.loc)
}

func (s *Session) saveChannelLocked(ch model.Channel, key string) {
	records := s.channels[ch]
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = r.Line()
	}
	s.saveLocked(key, lines)
}

func (s *Session) saveAlarmsLocked() {
	s.saveLocked(storage.KeyCampaignAlarms, s.alarms)
}

func (s *Session) saveLocked(key string, v any) {
	if s.persist == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode state", "key", key, "error", err)
		return
	}
	s.persist.Put(key, raw)
}

func newAlarm(rec model.Record, leadMinutes int, openInNewTab bool) (model.Alarm, error) {
	csq := rec.CSQ()
	if csq == "" {
		return model.Alarm{}, fmt.Errorf("%w: no csq in url %q", merge.ErrMalformedRecord, rec.URL)
	}
	if leadMinutes < model.MinLeadMinutes || leadMinutes > model.MaxLeadMinutes {
		return model.Alarm{}, fmt.Errorf("%w: %d", ErrInvalidLead, leadMinutes)
	}
	return model.Alarm{
		CSQ:               csq,
		ParticipationTime: rec.ParticipationTime,
		Title:             rec.Title,
		URL:               rec.URL,
		LeadMinutes:       leadMinutes,
		OpenInNewTab:      openInNewTab,
	}, nil
}

func upsertAlarm(alarms []model.Alarm, a model.Alarm) []model.Alarm {
	out := slices.DeleteFunc(slices.Clone(alarms), func(x model.Alarm) bool { return x.CSQ == a.CSQ })
	return append(out, a)
}

func upsertRecord(records []model.Record, r model.Record) []model.Record {
	csq := r.CSQ()
	out := slices.DeleteFunc(slices.Clone(records), func(x model.Record) bool { return x.CSQ() == csq })
	return append(out, r)
}
