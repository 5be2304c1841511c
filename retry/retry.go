// Package retry wraps arbitrary operations with transient-failure retry and
// configurable backoff. Retryability is decided by matching the error
// message against configured literal-substring or regex matchers; unmatched
// errors fail immediately. Per-call bookkeeping lives only for the duration
// of one in-flight operation.
package retry

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/callmesh/telemetry"
)

// Config tunes the retry behavior of a Policy.
type Config struct {
	// MaxRetries is the number of retries after the first attempt. 0
	// disables retrying.
	MaxRetries int
	// BaseDelay is the backoff delay of the first retry.
	BaseDelay time.Duration
	// Exponential selects BaseDelay * 2^(attempt-1) backoff; false means a
	// flat BaseDelay between attempts.
	Exponential bool
	// RetryableMatchers classify errors as transient. Each entry is tried
	// as a regular expression; entries that do not compile are matched as
	// literal substrings.
	RetryableMatchers []string
}

// DefaultConfig covers the transient failures a remote completion service
// typically surfaces.
var DefaultConfig = Config{
	MaxRetries:        3,
	BaseDelay:         500 * time.Millisecond,
	Exponential:       true,
	RetryableMatchers: []string{"rate limit", "429", "overloaded", "connection reset", "timeout", "503"},
}

// Context tracks the bookkeeping of one in-flight retryable operation. It
// is created on the first failure and discarded on success or exhaustion.
type Context struct {
	CallID      string    `json:"call_id"`
	Attempt     int       `json:"attempt"`
	LastErr     error     `json:"-"`
	NextRetryAt time.Time `json:"next_retry_at"`
}

// matcher is one compiled classification rule.
type matcher struct {
	re      *regexp.Regexp // nil means literal substring match
	literal string
}

func (m matcher) matches(msg string) bool {
	if m.re != nil {
		return m.re.MatchString(msg)
	}
	return strings.Contains(msg, m.literal)
}

// Options configures a Policy.
type Options struct {
	// Telemetry receives a UnitRetried hook event per backoff. Defaults to
	// the no-op hook.
	Telemetry telemetry.Hook
}

// Policy executes operations with retry-on-transient-failure semantics.
// All retry state is owned by the instance; construct one per engine.
// Distinct call ids retry independently; concurrent Do calls for the same
// id are serialized so bookkeeping never interleaves.
type Policy struct {
	config    Config
	matchers  []matcher
	telemetry telemetry.Hook

	mu       sync.Mutex
	contexts map[string]*Context   // in-flight retry state by call id
	inFlight map[string]*gateEntry // per-id gate, one Do at a time
}

// gateEntry serializes Do calls for one id. refs counts the holders and
// waiters so the entry can be dropped from the map once the last one
// leaves; like the context map, the gate map only holds in-flight ids.
type gateEntry struct {
	mu   sync.Mutex
	refs int
}

// NewPolicy compiles the config's matchers and returns a ready Policy.
func NewPolicy(config Config, optFns ...func(o *Options)) *Policy {
	opts := Options{Telemetry: telemetry.NoOpHook{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	matchers := make([]matcher, 0, len(config.RetryableMatchers))
	for _, pattern := range config.RetryableMatchers {
		re, err := regexp.Compile(pattern)
		if err != nil {
			matchers = append(matchers, matcher{literal: pattern})
			continue
		}
		matchers = append(matchers, matcher{re: re, literal: pattern})
	}

	return &Policy{
		config:    config,
		matchers:  matchers,
		telemetry: opts.Telemetry,
		contexts:  make(map[string]*Context),
		inFlight:  make(map[string]*gateEntry),
	}
}

// Retryable reports whether err matches at least one configured matcher.
func (p *Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range p.matchers {
		if m.matches(msg) {
			return true
		}
	}
	return false
}

// Delay computes the backoff before the given retry attempt (1-based).
func (p *Policy) Delay(attempt int) time.Duration {
	if !p.config.Exponential {
		return p.config.BaseDelay
	}
	return p.config.BaseDelay << (attempt - 1)
}

// ContextFor returns a copy of the in-flight retry context for callID, if
// any. Introspection only; primarily used by tests and telemetry.
func (p *Policy) ContextFor(callID string) (Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rc, ok := p.contexts[callID]
	if !ok {
		return Context{}, false
	}
	return *rc, true
}

// Do runs op, retrying transient failures up to MaxRetries with backoff.
// It returns nil on the first success, the last encountered error once
// retries are exhausted, or immediately for non-retryable errors and
// context cancellation. Cancellation is honored during backoff sleeps.
func (p *Policy) Do(ctx context.Context, callID string, op func(ctx context.Context) error) error {
	gate := p.acquireGate(callID)
	defer p.releaseGate(callID, gate)

	defer p.discard(callID)

	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.Retryable(err) || attempt > p.config.MaxRetries {
			return err
		}

		delay := p.Delay(attempt)
		p.record(callID, attempt, err, delay)
		p.telemetry.UnitRetried(callID, attempt, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// acquireGate registers interest in the per-id gate, creating it on first
// use, then takes it. The refcount is bumped before blocking so a
// concurrent releaseGate never deletes an entry someone still waits on.
func (p *Policy) acquireGate(callID string) *gateEntry {
	p.mu.Lock()
	g, ok := p.inFlight[callID]
	if !ok {
		g = &gateEntry{}
		p.inFlight[callID] = g
	}
	g.refs++
	p.mu.Unlock()

	g.mu.Lock()
	return g
}

// releaseGate unlocks the gate and removes the map entry once the last
// holder or waiter is gone, so finished ids never accumulate.
func (p *Policy) releaseGate(callID string, g *gateEntry) {
	g.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	g.refs--
	if g.refs == 0 {
		delete(p.inFlight, callID)
	}
}

// record updates the retry context for callID before a backoff sleep.
func (p *Policy) record(callID string, attempt int, err error, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rc, ok := p.contexts[callID]
	if !ok {
		rc = &Context{CallID: callID}
		p.contexts[callID] = rc
	}
	rc.Attempt = attempt
	rc.LastErr = err
	rc.NextRetryAt = time.Now().UTC().Add(delay)
}

// discard drops the retry context on success or exhaustion so the state
// map never grows with finished calls.
func (p *Policy) discard(callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.contexts, callID)
}
