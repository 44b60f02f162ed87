// Package stream runs crawl sessions over a WebSocket and feeds the records
// it receives into a Sink.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"campaign_watch/internal/model"
)

var (
	// ErrBusy is returned by Start while a session is connecting or open.
	ErrBusy = errors.New("stream already active")
	// ErrInvalidRequest is returned by Start for incomplete parameters.
	ErrInvalidRequest = errors.New("invalid crawl request")
	// ErrTransport marks a connection failure without a terminal envelope.
	ErrTransport = errors.New("transport error")
	// ErrProtocol wraps the message of a server "error" envelope.
	ErrProtocol = errors.New("server error")
)

// State is the lifecycle stage of a Client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is the terminal outcome of a session.
type Status int

const (
	StatusDone Status = iota
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result is delivered once per session when it returns to Idle.
type Result struct {
	Status Status
	Err    error
	// Records counts the records accepted by the sink.
	Records int
}

// Request carries the parameters of one crawl.
type Request struct {
	SessionCookie   string
	SelectedDays    []string
	ExcludeKeywords []string
	UseFullRange    bool
	StartID         int
	EndID           int
}

// Validate checks the request before any connection is attempted.
func (r Request) Validate() error {
	if strings.TrimSpace(r.SessionCookie) == "" {
		return fmt.Errorf("%w: session cookie is required", ErrInvalidRequest)
	}
	if len(r.SelectedDays) == 0 {
		return fmt.Errorf("%w: at least one day is required", ErrInvalidRequest)
	}
	if !r.UseFullRange && r.StartID > r.EndID {
		return fmt.Errorf("%w: start id %d greater than end id %d", ErrInvalidRequest, r.StartID, r.EndID)
	}
	return nil
}

// Params returns the persistable part of the request.
func (r Request) Params() model.CrawlParams {
	p := model.CrawlParams{
		SelectedDays:    r.SelectedDays,
		ExcludeKeywords: r.ExcludeKeywords,
		UseFullRange:    r.UseFullRange,
	}
	if !r.UseFullRange {
		p.StartID, p.EndID = r.StartID, r.EndID
	}
	return p
}

type initMessage struct {
	SessionCookie   string `json:"session_cookie"`
	SelectedDays    string `json:"selected_days"`
	ExcludeKeywords string `json:"exclude_keywords"`
	UseFullRange    bool   `json:"use_full_range"`
	StartID         *int   `json:"start_id,omitempty"`
	EndID           *int   `json:"end_id,omitempty"`
}

func newInitMessage(r Request) initMessage {
	m := initMessage{
		SessionCookie:   r.SessionCookie,
		SelectedDays:    strings.Join(r.SelectedDays, ","),
		ExcludeKeywords: strings.Join(r.ExcludeKeywords, ","),
		UseFullRange:    r.UseFullRange,
	}
	if !r.UseFullRange {
		start, end := r.StartID, r.EndID
		m.StartID, m.EndID = &start, &end
	}
	return m
}

type envelope struct {
	Event string  `json:"event"`
	Data  *string `json:"data"`
}

// Envelope kinds.
const (
	eventHidden = "hidden"
	eventPublic = "public"
	eventDone   = "done"
	eventError  = "error"
)

// Sink receives every record line pushed by the server. MergeLine is called
// with the Client locked.
type Sink interface {
	MergeLine(ch model.Channel, line string) error
}

// Client manages one streaming connection at a time.
type Client struct {
	url    string
	sink   Sink
	log    *slog.Logger
	header http.Header

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
}

// NewClient creates a Client for the crawl endpoint at url.
func NewClient(url string, sink Sink, log *slog.Logger) *Client {
	return &Client{url: url, sink: sink, log: log}
}

// SetHeader sets extra HTTP headers for the handshake.
func (c *Client) SetHeader(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header = h
}

// State reports the current lifecycle stage.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins a crawl session and returns a channel that receives exactly
// one Result when the session ends. It fails fast with ErrBusy when a
// session is already connecting or open. Cancelling ctx ends the session
// like Close.
func (c *Client) Start(ctx context.Context, req Request) (<-chan Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.cancel = cancel
	header := c.header
	c.mu.Unlock()

	results := make(chan Result, 1)
	go func() {
		defer cancel()
		res := c.run(runCtx, gen, header, req)
		c.finish(gen)
		c.log.Info("stream finished", "status", res.Status, "records", res.Records, "error", res.Err)
		results <- res
		close(results)
	}()
	return results, nil
}

// Close cancels the active session, if any. It is safe to call at any time
// and from any goroutine. The session's Result reports StatusCancelled and
// records merged so far are kept.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = StateIdle
}

func (c *Client) setState(gen uint64, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.cancel == nil {
		return false
	}
	c.state = s
	return true
}

// merge hands line to the sink unless the session was closed or replaced.
// It holds mu so no record lands after Close returns; the sink must not call
// back into the Client.
func (c *Client) merge(ctx context.Context, gen uint64, ch model.Channel, line string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil || c.gen != gen || c.cancel == nil {
		return false, nil
	}
	return true, c.sink.MergeLine(ch, line)
}

func (c *Client) finish(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.state = StateIdle
	c.cancel = nil
}

func (c *Client) run(ctx context.Context, gen uint64, header http.Header, req Request) Result {
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return c.failure(ctx, 0, fmt.Errorf("%w: dial: %v", ErrTransport, err))
	}
	defer conn.CloseNow()

	if !c.setState(gen, StateOpen) {
		return Result{Status: StatusCancelled}
	}

	if err := wsjson.Write(ctx, conn, newInitMessage(req)); err != nil {
		return c.failure(ctx, 0, fmt.Errorf("%w: send init message: %v", ErrTransport, err))
	}

	accepted := 0
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return c.failure(ctx, accepted, fmt.Errorf("%w: %v", ErrTransport, err))
		}
		if ctx.Err() != nil {
			return Result{Status: StatusCancelled, Records: accepted}
		}

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.log.Warn("undecodable envelope", "error", err)
			continue
		}

		switch env.Event {
		case eventHidden, eventPublic:
			ch, _ := model.ParseChannel(env.Event)
			if env.Data == nil {
				c.log.Warn("record envelope without data", "channel", ch)
				continue
			}
			live, err := c.merge(ctx, gen, ch, *env.Data)
			if !live {
				return Result{Status: StatusCancelled, Records: accepted}
			}
			if err != nil {
				c.log.Warn("record rejected", "channel", ch, "error", err)
				continue
			}
			accepted++
		case eventDone:
			conn.Close(websocket.StatusNormalClosure, "")
			return Result{Status: StatusDone, Records: accepted}
		case eventError:
			text := ""
			if env.Data != nil {
				text = *env.Data
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return Result{Status: StatusFailed, Err: fmt.Errorf("%w: %s", ErrProtocol, text), Records: accepted}
		default:
			c.log.Debug("unknown envelope", "event", env.Event)
		}
	}
}

func (c *Client) failure(ctx context.Context, accepted int, err error) Result {
	if ctx.Err() != nil {
		return Result{Status: StatusCancelled, Records: accepted}
	}
	return Result{Status: StatusFailed, Err: err, Records: accepted}
}
