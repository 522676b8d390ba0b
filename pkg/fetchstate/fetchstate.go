// Package fetchstate binds one resource locator and request configuration to
// observable request state: it issues the request on construction, tracks the
// loading/loaded/failed lifecycle and lets callers re-trigger it.
//
// Only the most recently issued attempt may change the observable state;
// settlements of superseded attempts, and any settlement after Close, are
// dropped.
package fetchstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samvad-hq/fetchstate/pkg/httpclient"
	"github.com/samvad-hq/fetchstate/pkg/reactive"
)

const defaultTimeout = 30 * time.Second

// ErrClosed is returned by WaitSettled once the state has been disposed.
var ErrClosed = errors.New("fetch state closed")

var defaultClient = sync.OnceValue(func() httpclient.Client {
	return httpclient.NewRestyClient(defaultTimeout)
})

// DefaultClient returns the shared transport used when no client is supplied.
func DefaultClient() httpclient.Client { return defaultClient() }

// Option configures a FetchState.
type Option func(*options)

type options struct {
	client    httpclient.Client
	log       Logger
	scheduler reactive.Scheduler
	ctx       context.Context
}

// WithClient sets the transport.
func WithClient(c httpclient.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogger sets the logger.
func WithLogger(log Logger) Option {
	return func(o *options) { o.log = log }
}

// WithScheduler sets where Subscribe callbacks run. Without it they run inline
// on the goroutine that performed the transition.
func WithScheduler(s reactive.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithContext parents the cancellation token; cancelling ctx disposes the state.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// FetchState is a reactive container for one request's outcome.
type FetchState[T any] struct {
	client    httpclient.Client
	decode    Decoder[T]
	log       Logger
	scheduler reactive.Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	locator string
	cfg     Config
	effect  *reactive.Effect

	state *reactive.Cell[State[T]]
}

// New builds a FetchState and immediately issues the first request.
// A nil decode defaults to JSON.
func New[T any](locator string, cfg Config, decode Decoder[T], opts ...Option) *FetchState[T] {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.client == nil {
		o.client = DefaultClient()
	}
	if o.ctx == nil {
		o.ctx = context.Background()
	}
	if decode == nil {
		decode = JSON[T]()
	}

	ctx, cancel := context.WithCancel(o.ctx)
	f := &FetchState[T]{
		client:    o.client,
		decode:    decode,
		log:       ensureLogger(o.log),
		scheduler: o.scheduler,
		ctx:       ctx,
		cancel:    cancel,
		locator:   locator,
		cfg:       cfg.withDefaults(),
		state:     reactive.NewCell(State[T]{}),
	}

	effect, err := reactive.NewEffect(f.Reload, f.locator, f.cfg)
	if err != nil {
		f.log.WarnObj("fetch dependencies not comparable; changes always refetch", "fetch_effect_error", map[string]any{
			"locator": locator,
			"error":   err.Error(),
		})
		f.Reload()
	}
	f.effect = effect
	return f
}

// Reload starts a new attempt: Pending is set, Failure cleared and the request
// issued again. The previous payload stays visible until the attempt succeeds.
func (f *FetchState[T]) Reload() { f.reload() }

// reload reports whether an attempt was started; it is false once disposed.
func (f *FetchState[T]) reload() bool {
	f.mu.RLock()
	locator, cfg := f.locator, f.cfg
	f.mu.RUnlock()

	var attempt uint64
	started := f.state.UpdateIf(func(s State[T]) (State[T], bool) {
		if f.ctx.Err() != nil {
			return s, false
		}
		s.Attempt++
		s.Pending = true
		s.Failure = ""
		attempt = s.Attempt
		return s, true
	})
	if !started {
		return false
	}

	f.log.DebugObj("fetch attempt issued", "fetch_attempt", map[string]any{
		"locator": locator,
		"method":  cfg.Method,
		"attempt": attempt,
	})

	go func() {
		payload, err := f.fetch(locator, cfg)
		f.settle(attempt, payload, err)
	}()
	return true
}

// SetRequest rebinds the locator and config. The request is re-issued only
// when either differs by value from the current binding; it reports whether
// a new attempt started. After Close the binding is left untouched.
func (f *FetchState[T]) SetRequest(locator string, cfg Config) bool {
	if f.ctx.Err() != nil {
		return false
	}
	cfg = cfg.withDefaults()

	f.mu.Lock()
	f.locator, f.cfg = locator, cfg
	effect := f.effect
	f.mu.Unlock()

	if effect == nil {
		return f.reload()
	}
	ran, err := effect.Update(locator, cfg)
	if err != nil {
		f.log.WarnObj("fetch dependencies not comparable; refetching", "fetch_effect_error", map[string]any{
			"locator": locator,
			"error":   err.Error(),
		})
		return f.reload()
	}
	return ran
}

// Close disposes the state. In-flight requests see a cancelled context and
// their settlements are dropped. Close is idempotent.
func (f *FetchState[T]) Close() { f.cancel() }

// Locator returns the currently bound locator.
func (f *FetchState[T]) Locator() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.locator
}

// RequestConfig returns the currently bound request configuration.
func (f *FetchState[T]) RequestConfig() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

// Snapshot returns the current state.
func (f *FetchState[T]) Snapshot() State[T] { return f.state.Get() }

// Payload returns the last decoded payload and whether one exists.
func (f *FetchState[T]) Payload() (T, bool) {
	s := f.state.Get()
	return s.Payload, s.HasPayload
}

// Pending reports whether the latest attempt is in flight.
func (f *FetchState[T]) Pending() bool { return f.state.Get().Pending }

// Failure returns the latest failure description, or "".
func (f *FetchState[T]) Failure() string { return f.state.Get().Failure }

// Status returns the lifecycle position.
func (f *FetchState[T]) Status() Status { return f.state.Get().Status() }

// Subscribe registers fn to observe every transition, in the order the
// transitions happened. The returned func unsubscribes.
func (f *FetchState[T]) Subscribe(fn func(State[T])) func() {
	return f.state.SubscribeWithScheduler(f.scheduler, fn)
}

// SubscribeWithScheduler registers fn to observe transitions through scheduler.
func (f *FetchState[T]) SubscribeWithScheduler(scheduler reactive.Scheduler, fn func(State[T])) func() {
	return f.state.SubscribeWithScheduler(scheduler, fn)
}

// WaitSettled blocks until the latest attempt settles and returns that state.
func (f *FetchState[T]) WaitSettled(ctx context.Context) (State[T], error) {
	settled := make(chan State[T], 1)
	unsubscribe := f.state.Subscribe(func(s State[T]) {
		if s.Pending {
			return
		}
		select {
		case settled <- s:
		default:
		}
	})
	defer unsubscribe()

	if s := f.state.Get(); !s.Pending {
		return s, nil
	}

	select {
	case s := <-settled:
		return s, nil
	case <-f.ctx.Done():
		return f.state.Get(), ErrClosed
	case <-ctx.Done():
		return f.state.Get(), ctx.Err()
	}
}

func (f *FetchState[T]) fetch(locator string, cfg Config) (T, error) {
	var zero T
	resp, err := f.client.Do(f.ctx, httpclient.Request{
		Method:  cfg.Method,
		URL:     locator,
		Headers: cfg.Headers,
		Body:    cfg.Body,
	})
	if err != nil {
		return zero, err
	}
	if resp == nil {
		return zero, fmt.Errorf("transport returned no response")
	}

	payload, err := f.decode(resp.Body())
	if err != nil {
		return zero, fmt.Errorf("decode response body: %w", err)
	}
	return payload, nil
}

func (f *FetchState[T]) settle(attempt uint64, payload T, err error) {
	var latest uint64
	applied := f.state.UpdateIf(func(s State[T]) (State[T], bool) {
		latest = s.Attempt
		// the disposal check runs under the cell lock so nothing lands after Close
		if f.ctx.Err() != nil || s.Attempt != attempt {
			return s, false
		}
		s.Pending = false
		if err != nil {
			s.Failure = failureText(err)
			return s, true
		}
		s.Payload = payload
		s.HasPayload = true
		s.Failure = ""
		return s, true
	})

	if !applied {
		f.log.DebugObj("fetch settlement discarded", "fetch_discarded", map[string]any{
			"attempt":        attempt,
			"latest_attempt": latest,
		})
		return
	}
	if err != nil {
		f.log.WarnObj("fetch attempt failed", "fetch_failure", map[string]any{
			"locator": f.Locator(),
			"attempt": attempt,
			"error":   err.Error(),
		})
		return
	}
	f.log.DebugObj("fetch attempt settled", "fetch_settled", map[string]any{
		"locator": f.Locator(),
		"attempt": attempt,
	})
}

func failureText(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "request failed"
}
