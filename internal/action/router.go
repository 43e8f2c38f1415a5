// Package action routes imperative intents to registered handlers under
// per-subtype cooldowns and a short last-wins conflict window.
//
// Cooldowns debounce accidental re-fires: an action that fired recently is
// reported (with WasDebounced set) but its handler is not invoked. The
// conflict window resolves rapid corrections: when several imperatives
// arrive within the window, only the last one fires. A speaker saying
// "Stop. Actually, continue." must execute Continue, not Stop.
//
// All methods are safe for concurrent use. Handlers and event callbacks run
// without any router lock held.
package action

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/attune/internal/intent"
)

// Default routing windows. Stop is exempt from debouncing so a spoken abort
// always lands.
const (
	DefaultConflictWindow   = 1500 * time.Millisecond
	DefaultCooldown         = 1500 * time.Millisecond
	DefaultGenerateCooldown = 5 * time.Second
)

// Event reports a routed action to subscribers. Debounced routes emit an
// Event with WasDebounced set and do not invoke handlers; the consumer
// decides what a debounced action means.
type Event struct {
	// ActionName is the snake_case name derived from the intent subtype,
	// e.g. "start_over".
	ActionName string

	// Intent is the imperative that produced this action.
	Intent intent.Intent

	// UtteranceID identifies the source utterance.
	UtteranceID uint64

	// WasDebounced is true when the action was suppressed by a cooldown.
	WasDebounced bool

	// Timestamp is the routing (or firing) time.
	Timestamp time.Time
}

// Handler executes an imperative action. A returned error is reported via
// the router's error callback; panics are recovered and reported the same
// way. Handler failures never corrupt cooldown or conflict state.
type Handler func(in intent.Intent) error

// Config configures a [Router].
type Config struct {
	// Cooldowns maps imperative subtypes to their debounce interval.
	// Unlisted subtypes use DefaultCooldown, except Generate
	// (DefaultGenerateCooldown) and Stop, which is always 0; a configured
	// Stop cooldown is ignored.
	Cooldowns map[intent.Subtype]time.Duration

	// ConflictWindow is the last-wins resolution deadline. Zero or negative
	// disables conflict buffering: winners fire immediately on route.
	ConflictWindow time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// OnAction receives every emitted [Event], debounced ones included.
	OnAction func(Event)

	// OnError receives handler failures.
	OnError func(error)
}

// Router dispatches imperative intents to handlers.
type Router struct {
	conflictWindow time.Duration
	clock          func() time.Time
	onAction       func(Event)
	onError        func(error)

	mu        sync.Mutex
	cooldowns map[intent.Subtype]time.Duration
	lastFired map[intent.Subtype]time.Time
	handlers  map[intent.Subtype]Handler
	pending   *pendingAction
}

// pendingAction is the current conflict-window winner awaiting resolution.
type pendingAction struct {
	in          intent.Intent
	utteranceID uint64
	deadline    time.Time
}

// NewRouter creates a Router from cfg, applying defaults for unset values.
func NewRouter(cfg Config) *Router {
	r := &Router{
		conflictWindow: cfg.ConflictWindow,
		clock:          cfg.Clock,
		onAction:       cfg.OnAction,
		onError:        cfg.OnError,
		cooldowns:      make(map[intent.Subtype]time.Duration, len(cfg.Cooldowns)),
		lastFired:      make(map[intent.Subtype]time.Time),
		handlers:       make(map[intent.Subtype]Handler),
	}
	for subtype, d := range cfg.Cooldowns {
		if d >= 0 {
			r.cooldowns[subtype] = d
		}
	}
	// Stop must never be debounced.
	r.cooldowns[intent.SubtypeStop] = 0
	if r.clock == nil {
		r.clock = time.Now
	}
	return r
}

// RegisterHandler stores fn as the executor for subtype. It replaces any
// previously registered handler. Handlers are invoked only for
// non-debounced, conflict-resolved winners.
func (r *Router) RegisterHandler(subtype intent.Subtype, fn Handler) {
	r.mu.Lock()
	r.handlers[subtype] = fn
	r.mu.Unlock()
}

// Route submits an intent for dispatch. Non-imperative intents are ignored
// and return false. The return is true whenever an action event was, or will
// be, emitted: immediately for debounced routes, at conflict resolution for
// winners.
func (r *Router) Route(in intent.Intent, utteranceID uint64) bool {
	if in.Type != intent.TypeImperative {
		return false
	}
	now := r.clock()

	r.mu.Lock()

	// A pending winner whose deadline has passed fires before the new
	// arrival is considered.
	var resolved *resolution
	if r.pending != nil && !now.Before(r.pending.deadline) {
		resolved = r.resolveLocked(now)
	}

	cooldown, ok := r.cooldowns[in.Subtype]
	if !ok {
		if in.Subtype == intent.SubtypeGenerate {
			cooldown = DefaultGenerateCooldown
		} else {
			cooldown = DefaultCooldown
		}
	}
	if last, fired := r.lastFired[in.Subtype]; fired && now.Sub(last) < cooldown {
		r.mu.Unlock()
		if resolved != nil {
			r.finish(resolved)
		}
		r.emit(Event{
			ActionName:   ActionName(in.Subtype),
			Intent:       in,
			UtteranceID:  utteranceID,
			WasDebounced: true,
			Timestamp:    now,
		})
		return true
	}

	if r.conflictWindow <= 0 {
		// No conflict buffering: fire immediately.
		r.pending = &pendingAction{in: in, utteranceID: utteranceID, deadline: now}
		immediate := r.resolveLocked(now)
		r.mu.Unlock()
		if resolved != nil {
			r.finish(resolved)
		}
		r.finish(immediate)
		return true
	}

	if r.pending == nil {
		r.pending = &pendingAction{
			in:          in,
			utteranceID: utteranceID,
			deadline:    now.Add(r.conflictWindow),
		}
	} else {
		// Last wins: replace the winner, keep the original deadline.
		r.pending.in = in
		r.pending.utteranceID = utteranceID
	}
	r.mu.Unlock()

	if resolved != nil {
		r.finish(resolved)
	}
	return true
}

// CheckConflictWindow resolves the pending winner once its deadline is
// reached. Call it periodically from a ticker.
func (r *Router) CheckConflictWindow() {
	now := r.clock()

	r.mu.Lock()
	var resolved *resolution
	if r.pending != nil && !now.Before(r.pending.deadline) {
		resolved = r.resolveLocked(now)
	}
	r.mu.Unlock()

	if resolved != nil {
		r.finish(resolved)
	}
}

// Reset clears all cooldown and pending state. Registered handlers are kept.
func (r *Router) Reset() {
	r.mu.Lock()
	r.lastFired = make(map[intent.Subtype]time.Time)
	r.pending = nil
	r.mu.Unlock()
}

// resolution carries a fired winner out of the critical section so handler
// invocation and event emission happen without the lock.
type resolution struct {
	in          intent.Intent
	utteranceID uint64
	handler     Handler
	firedAt     time.Time
}

// resolveLocked commits the pending winner: it updates the cooldown stamp
// and clears the slot. Must be called with r.mu held; the caller invokes
// finish after unlocking.
func (r *Router) resolveLocked(now time.Time) *resolution {
	p := r.pending
	r.pending = nil
	r.lastFired[p.in.Subtype] = now
	return &resolution{
		in:          p.in,
		utteranceID: p.utteranceID,
		handler:     r.handlers[p.in.Subtype],
		firedAt:     now,
	}
}

// finish invokes the winner's handler and emits the action event. State was
// already committed in resolveLocked, so a misbehaving handler cannot
// corrupt it.
func (r *Router) finish(res *resolution) {
	if res.handler != nil {
		if err := r.invoke(res.handler, res.in); err != nil && r.onError != nil {
			r.onError(fmt.Errorf("action %s: %w", ActionName(res.in.Subtype), err))
		}
	}
	r.emit(Event{
		ActionName:  ActionName(res.in.Subtype),
		Intent:      res.in,
		UtteranceID: res.utteranceID,
		Timestamp:   res.firedAt,
	})
}

// invoke runs fn with panic recovery.
func (r *Router) invoke(fn Handler, in intent.Intent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return fn(in)
}

// emit delivers ev to the action callback, if any.
func (r *Router) emit(ev Event) {
	if r.onAction != nil {
		r.onAction(ev)
	}
}

// ActionName maps an imperative subtype to its snake_case action name.
func ActionName(subtype intent.Subtype) string {
	switch subtype {
	case intent.SubtypeStop:
		return "stop"
	case intent.SubtypeRepeat:
		return "repeat"
	case intent.SubtypeContinue:
		return "continue"
	case intent.SubtypeStartOver:
		return "start_over"
	case intent.SubtypeGenerate:
		return "generate_questions"
	default:
		return string(subtype)
	}
}
