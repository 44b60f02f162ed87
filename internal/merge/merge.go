// Package merge keeps result channels deduplicated by csq and ordered by
// participation time.
//
// Ordering compares the raw participation strings. The format is zero padded
// with fields in month, day, hour, minute order, so lexicographic order equals
// chronological order within one year. Records straddling a year boundary
// (December followed by January) sort January first.
package merge

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"campaign_watch/internal/model"
	"campaign_watch/internal/timeparse"
)

var (
	// ErrMalformedRecord marks a record with a wrong field count or no csq.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrIndexOutOfRange is returned by Delete for an invalid position.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// ParseRecord decodes one wire record of eight " & "-separated fields.
func ParseRecord(line string) (model.Record, error) {
	parts := strings.Split(line, model.FieldSeparator)
	if len(parts) != model.RecordFields {
		return model.Record{}, fmt.Errorf("%w: %d fields, want %d", ErrMalformedRecord, len(parts), model.RecordFields)
	}
	rec := model.Record{
		Category:          parts[0],
		Review:            parts[1],
		Mall:              parts[2],
		Price:             parts[3],
		Point:             parts[4],
		ParticipationTime: parts[5],
		Title:             parts[6],
		URL:               parts[7],
	}
	if rec.CSQ() == "" {
		return model.Record{}, fmt.Errorf("%w: no csq in url %q", ErrMalformedRecord, rec.URL)
	}
	return rec, nil
}

// Merge returns a copy of records with rec inserted. Any record sharing
// rec's csq is replaced, and the result is sorted ascending by participation
// time. The input slice is never modified.
func Merge(records []model.Record, rec model.Record) ([]model.Record, error) {
	csq := rec.CSQ()
	if csq == "" {
		return records, fmt.Errorf("%w: no csq in url %q", ErrMalformedRecord, rec.URL)
	}

	out := make([]model.Record, 0, len(records)+1)
	for _, r := range records {
		if r.CSQ() != csq {
			out = append(out, r)
		}
	}
	out = append(out, rec)
	Sort(out)
	return out, nil
}

// Sort orders records ascending by their raw participation time, keeping
// arrival order among equal times.
func Sort(records []model.Record) {
	slices.SortStableFunc(records, func(a, b model.Record) int {
		return strings.Compare(a.ParticipationTime, b.ParticipationTime)
	})
}

// Delete returns a copy of records without the element at index.
func Delete(records []model.Record, index int) ([]model.Record, error) {
	if index < 0 || index >= len(records) {
		return records, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(records))
	}
	out := make([]model.Record, 0, len(records)-1)
	out = append(out, records[:index]...)
	return append(out, records[index+1:]...), nil
}

// Find returns the record with the given csq.
func Find(records []model.Record, csq string) (model.Record, bool) {
	for _, r := range records {
		if r.CSQ() == csq {
			return r, true
		}
	}
	return model.Record{}, false
}

// Unparseable lists the records whose participation time cannot be parsed.
// They stay in their channel but take no part in time-based decisions.
func Unparseable(records []model.Record, year int, loc *time.Location) []model.Record {
	var out []model.Record
	for _, r := range records {
		if _, ok := timeparse.Parse(r.ParticipationTime, year, loc); !ok {
			out = append(out, r)
		}
	}
	return out
}
