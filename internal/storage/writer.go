package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	writeTimeout     = 5 * time.Second
	defaultRetries   = 3
	defaultBaseDelay = 200 * time.Millisecond
)

// Writer is a fire-and-forget write-through in front of a Store.
//
// Put never blocks on I/O. Pending values are coalesced per key so only the
// latest value of a key is written. A background goroutine drains them,
// retrying failed writes with exponential backoff before giving up. Close
// interrupts backoff waits; interrupted writes use their remaining attempts
// immediately.
type Writer struct {
	store     Store
	log       *slog.Logger
	retries   int
	baseDelay time.Duration

	mu      sync.Mutex
	pending map[string][]byte
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWriter starts a Writer that persists into store.
func NewWriter(store Store, log *slog.Logger) *Writer {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		ctx:       ctx,
		cancel:    cancel,
		store:     store,
		log:       log,
		retries:   defaultRetries,
		baseDelay: defaultBaseDelay,
		pending:   make(map[string][]byte),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.loop()
	return w
}

// SetRetry overrides the retry policy (useful for testing).
func (w *Writer) SetRetry(retries int, baseDelay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retries = retries
	w.baseDelay = baseDelay
}

// Put schedules value to be written under key.
func (w *Writer) Put(key string, value []byte) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.log.Warn("write after close dropped", "key", key)
		return
	}
	w.pending[key] = value
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Close flushes every pending write and stops the background goroutine.
// It does not close the underlying Store.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		w.cancel()
		close(w.quit)
	})
	<-w.done
	return nil
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.flush()
		case <-w.quit:
			w.flush()
			return
		}
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string][]byte)
	retries, delay := w.retries, w.baseDelay
	w.mu.Unlock()

	for key, value := range batch {
		w.write(key, value, retries, delay)
	}
}

func (w *Writer) write(key string, value []byte, retries int, delay time.Duration) {
	attempts := 0
	put := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		return w.store.Put(ctx, key, value)
	}

	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(delay))
	err := retry.Do(w.ctx, backoff, func(context.Context) error {
		if err := put(); err != nil {
			w.log.Warn("persist state failed", "key", key, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})

	if errors.Is(err, context.Canceled) && w.ctx.Err() != nil {
		// Closing: no more waiting between attempts.
		err = errors.New("no attempts left")
		for attempts <= retries {
			if err = put(); err == nil {
				return
			}
		}
	}
	if err != nil {
		w.log.Error("persist state", "key", key, "attempts", attempts, "error", err)
	}
}
