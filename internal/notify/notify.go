// Package notify delivers fired alarms to the user.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"campaign_watch/internal/model"
)

// AlertTitle heads every alarm notification.
const AlertTitle = "⏰ 캠페인 알림"

// Alert is a user-visible notification.
type Alert struct {
	Title string
	Body  string
	URL   string
}

// AlertFor builds the alert shown when a is fired.
func AlertFor(a model.Alarm) Alert {
	return Alert{Title: AlertTitle, Body: a.Title, URL: a.URL}
}

// Sink shows an alert somewhere the user will see it.
type Sink interface {
	Alert(ctx context.Context, alert Alert) error
}

// Clipboard receives the campaign URL of alarms armed with OpenInNewTab.
type Clipboard interface {
	Copy(text string) error
}

// Opener opens a URL in the user's browser.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// Dispatcher fans a fired alarm out to every sink and performs the
// auxiliary URL actions.
type Dispatcher struct {
	sinks     []Sink
	clipboard Clipboard
	opener    Opener
	log       *slog.Logger
}

// NewDispatcher creates a Dispatcher delivering to sinks.
func NewDispatcher(log *slog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, log: log}
}

// AddSink registers another sink. Not safe to call concurrently with Fire.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// SetClipboard sets the clipboard used for OpenInNewTab alarms.
func (d *Dispatcher) SetClipboard(c Clipboard) {
	d.clipboard = c
}

// SetOpener sets the URL opener used for OpenInNewTab alarms.
func (d *Dispatcher) SetOpener(o Opener) {
	d.opener = o
}

// Fire notifies every sink about a and, when the alarm asks for it and has a
// URL, copies the URL to the clipboard and opens it. Every step is attempted
// even if an earlier one fails; the returned error joins all failures.
func (d *Dispatcher) Fire(ctx context.Context, a model.Alarm) error {
	alert := AlertFor(a)

	var errs []error
	for _, s := range d.sinks {
		if err := s.Alert(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("alert via %T: %w", s, err))
		}
	}

	if a.OpenInNewTab && a.URL != "" {
		if d.clipboard != nil {
			if err := d.clipboard.Copy(a.URL); err != nil {
				errs = append(errs, fmt.Errorf("copy url: %w", err))
			}
		}
		if d.opener != nil {
			if err := d.opener.Open(ctx, a.URL); err != nil {
				errs = append(errs, fmt.Errorf("open url: %w", err))
			}
		}
	}

	if len(errs) > 0 {
		d.log.Debug("alarm delivery incomplete", "csq", a.CSQ, "failures", len(errs))
	}
	return errors.Join(errs...)
}

// LogSink writes alerts to a logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Alert logs the alert at info level.
func (s *LogSink) Alert(_ context.Context, alert Alert) error {
	s.log.Info(alert.Title, "body", alert.Body, "url", alert.URL)
	return nil
}
