// Package pipeline composes the utterance-intent processing chain: ASR
// events flow through stabilization and utterance segmentation into intent
// classification, deduplication, and action routing.
//
// The pipeline is synchronous end-to-end. A single [Pipeline.ProcessAsrEvent]
// call returns after all downstream events for that input have fired on the
// calling goroutine. Timeout-driven behaviour (silence closes, conflict
// resolution) is cooperative: the caller invokes [Pipeline.CheckTimeouts] and
// [Pipeline.CheckConflictWindow] from a periodic ticker, or [Pipeline.Tick]
// for both.
//
// Subscriber callbacks run on the emitting goroutine and must not block.
// A panicking subscriber is recovered and reported through the error
// callbacks; it never corrupts pipeline state or suppresses later events.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/attune/internal/action"
	"github.com/MrWong99/attune/internal/dedup"
	"github.com/MrWong99/attune/internal/intent"
	"github.com/MrWong99/attune/internal/observe"
	"github.com/MrWong99/attune/internal/stabilize"
	"github.com/MrWong99/attune/internal/utterance"
	"github.com/MrWong99/attune/pkg/asr"
	"github.com/MrWong99/attune/pkg/record"
)

// IntentEvent wraps a classified intent with its source utterance.
type IntentEvent struct {
	// UtteranceID identifies the owning utterance.
	UtteranceID uint64

	// Intent is the classification result.
	Intent intent.Intent

	// IsCandidate distinguishes early hints from the authoritative final.
	IsCandidate bool

	// EmittedAt is the emission timestamp.
	EmittedAt time.Time
}

// Config assembles a [Pipeline]. Zero values select the documented defaults
// of each stage.
type Config struct {
	// Stabilizer settings.
	StabilizerWindowSize              int
	MinWordConfidence                 float64
	RequireRepetitionForLowConfidence bool

	// Utterance close thresholds.
	SilenceGapThreshold       time.Duration
	PunctuationPauseThreshold time.Duration
	MaxUtteranceDuration      time.Duration
	MaxUtteranceLength        int

	// Intent thresholds.
	IntentMinConfidence    float64
	CandidateMinConfidence float64

	// Deduplication settings.
	DeduplicationSimilarityThreshold float64
	DeduplicationWindow              time.Duration

	// Action routing settings.
	ConflictWindow time.Duration
	Cooldowns      map[intent.Subtype]time.Duration

	// Detector overrides the built-in heuristic detector, e.g. with an
	// LLM-backed implementation.
	Detector intent.Detector

	// Clock returns the current time. Defaults to time.Now. Tests inject a
	// deterministic clock.
	Clock func() time.Time

	// Metrics receives pipeline instrumentation. Nil disables metrics.
	Metrics *observe.Metrics

	// Recorder persists finished utterances, intents, and actions.
	// Nil disables recording.
	Recorder record.Recorder

	// SessionID labels recorded entries. Only meaningful with a Recorder.
	SessionID string
}

// Pipeline wires the processing stages together and fans events out to
// subscribers.
type Pipeline struct {
	clock     func() time.Time
	detector  intent.Detector
	metrics   *observe.Metrics
	recorder  record.Recorder
	sessionID string

	builder *utterance.Builder
	dedup   *dedup.Deduplicator
	router  *action.Router

	mu              sync.Mutex
	onAsrPartial    []func(asr.Event)
	onAsrFinal      []func(asr.Event)
	onUttOpen       []func(utterance.OpenInfo)
	onUttUpdate     []func(utterance.Snapshot)
	onUttFinal      []func(utterance.Utterance)
	onIntentCand    []func(IntentEvent)
	onIntentFinal   []func(IntentEvent)
	onActionTrigger []func(action.Event)
	onError         []func(error)
}

// New assembles a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		clock:     cfg.Clock,
		detector:  cfg.Detector,
		metrics:   cfg.Metrics,
		recorder:  cfg.Recorder,
		sessionID: cfg.SessionID,
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.detector == nil {
		var opts []intent.Option
		if cfg.IntentMinConfidence > 0 {
			opts = append(opts, intent.WithMinConfidence(cfg.IntentMinConfidence))
		}
		if cfg.CandidateMinConfidence > 0 {
			opts = append(opts, intent.WithCandidateMinConfidence(cfg.CandidateMinConfidence))
		}
		p.detector = intent.NewDetector(opts...)
	}

	var stabOpts []stabilize.Option
	if cfg.StabilizerWindowSize > 0 {
		stabOpts = append(stabOpts, stabilize.WithWindowSize(cfg.StabilizerWindowSize))
	}
	if cfg.MinWordConfidence > 0 {
		stabOpts = append(stabOpts, stabilize.WithMinWordConfidence(cfg.MinWordConfidence))
	}
	stabOpts = append(stabOpts, stabilize.WithRepetitionGate(cfg.RequireRepetitionForLowConfidence))

	p.builder = utterance.NewBuilder(utterance.Config{
		SilenceGapThreshold:       cfg.SilenceGapThreshold,
		PunctuationPauseThreshold: cfg.PunctuationPauseThreshold,
		MaxUtteranceDuration:      cfg.MaxUtteranceDuration,
		MaxUtteranceLength:        cfg.MaxUtteranceLength,
		Stabilizer:                stabilize.New(stabOpts...),
		Clock:                     p.clock,
		OnOpen:                    p.handleOpen,
		OnUpdate:                  p.handleUpdate,
		OnFinal:                   p.handleFinal,
	})

	var dedupOpts []dedup.Option
	if cfg.DeduplicationSimilarityThreshold > 0 {
		dedupOpts = append(dedupOpts, dedup.WithSimilarityThreshold(cfg.DeduplicationSimilarityThreshold))
	}
	if cfg.DeduplicationWindow > 0 {
		dedupOpts = append(dedupOpts, dedup.WithWindow(cfg.DeduplicationWindow))
	}
	dedupOpts = append(dedupOpts, dedup.WithClock(p.clock))
	p.dedup = dedup.New(dedupOpts...)

	p.router = action.NewRouter(action.Config{
		Cooldowns:      cfg.Cooldowns,
		ConflictWindow: cfg.ConflictWindow,
		Clock:          p.clock,
		OnAction:       p.handleAction,
		OnError:        p.handleHandlerError,
	})

	return p
}

// ---- subscriptions ----

// OnAsrPartial subscribes to pass-through partial ASR events.
func (p *Pipeline) OnAsrPartial(fn func(asr.Event)) {
	p.mu.Lock()
	p.onAsrPartial = append(p.onAsrPartial, fn)
	p.mu.Unlock()
}

// OnAsrFinal subscribes to pass-through final ASR events.
func (p *Pipeline) OnAsrFinal(fn func(asr.Event)) {
	p.mu.Lock()
	p.onAsrFinal = append(p.onAsrFinal, fn)
	p.mu.Unlock()
}

// OnUtteranceOpen subscribes to utterance openings.
func (p *Pipeline) OnUtteranceOpen(fn func(utterance.OpenInfo)) {
	p.mu.Lock()
	p.onUttOpen = append(p.onUttOpen, fn)
	p.mu.Unlock()
}

// OnUtteranceUpdate subscribes to in-progress utterance snapshots.
func (p *Pipeline) OnUtteranceUpdate(fn func(utterance.Snapshot)) {
	p.mu.Lock()
	p.onUttUpdate = append(p.onUttUpdate, fn)
	p.mu.Unlock()
}

// OnUtteranceFinal subscribes to finished utterances.
func (p *Pipeline) OnUtteranceFinal(fn func(utterance.Utterance)) {
	p.mu.Lock()
	p.onUttFinal = append(p.onUttFinal, fn)
	p.mu.Unlock()
}

// OnIntentCandidate subscribes to early intent hints. Candidates are not
// deduplicated; consumers coalesce them as needed.
func (p *Pipeline) OnIntentCandidate(fn func(IntentEvent)) {
	p.mu.Lock()
	p.onIntentCand = append(p.onIntentCand, fn)
	p.mu.Unlock()
}

// OnIntentFinal subscribes to authoritative post-dedup intents, one at most
// per utterance.
func (p *Pipeline) OnIntentFinal(fn func(IntentEvent)) {
	p.mu.Lock()
	p.onIntentFinal = append(p.onIntentFinal, fn)
	p.mu.Unlock()
}

// OnActionTriggered subscribes to routed actions, debounced ones included.
func (p *Pipeline) OnActionTriggered(fn func(action.Event)) {
	p.mu.Lock()
	p.onActionTrigger = append(p.onActionTrigger, fn)
	p.mu.Unlock()
}

// OnError subscribes to handler failures and recovered subscriber panics.
func (p *Pipeline) OnError(fn func(error)) {
	p.mu.Lock()
	p.onError = append(p.onError, fn)
	p.mu.Unlock()
}

// RegisterHandler registers an action handler for an imperative subtype.
func (p *Pipeline) RegisterHandler(subtype intent.Subtype, fn action.Handler) {
	p.router.RegisterHandler(subtype, fn)
}

// ---- operations ----

// ProcessAsrEvent feeds one ASR result through the pipeline. All resulting
// events fire synchronously before it returns.
func (p *Pipeline) ProcessAsrEvent(e asr.Event) {
	if e.IsFinal {
		p.emitAsr(p.snapshotAsrFinal(), e)
	} else {
		p.emitAsr(p.snapshotAsrPartial(), e)
	}
	p.builder.ProcessAsrEvent(e)
}

// SignalUtteranceEnd closes the current utterance on an external end-of-turn
// signal.
func (p *Pipeline) SignalUtteranceEnd() {
	p.builder.SignalUtteranceEnd()
}

// ForceClose closes the current utterance manually.
func (p *Pipeline) ForceClose() {
	p.builder.ForceClose()
}

// CheckTimeouts evaluates the time-based utterance close conditions.
func (p *Pipeline) CheckTimeouts() {
	p.builder.CheckTimeouts()
}

// CheckConflictWindow resolves a pending action winner whose deadline has
// been reached.
func (p *Pipeline) CheckConflictWindow() {
	p.router.CheckConflictWindow()
}

// Tick runs both periodic checks. Convenience for a single-ticker caller.
func (p *Pipeline) Tick() {
	p.CheckTimeouts()
	p.CheckConflictWindow()
}

// Reset returns the pipeline to its initial state: the open utterance (if
// any) is discarded without a Final, and dedup and routing history are
// cleared. Subscribers and handlers are kept.
func (p *Pipeline) Reset() {
	p.builder.Reset()
	p.dedup.Reset()
	p.router.Reset()
}

// ---- stage glue ----

func (p *Pipeline) handleOpen(info utterance.OpenInfo) {
	if p.metrics != nil {
		p.metrics.ActiveUtterances.Add(context.Background(), 1)
	}
	for _, fn := range p.snapshotUttOpen() {
		p.safeCall("utterance_open", func() { fn(info) })
	}
}

func (p *Pipeline) handleUpdate(s utterance.Snapshot) {
	for _, fn := range p.snapshotUttUpdate() {
		p.safeCall("utterance_update", func() { fn(s) })
	}

	// Candidate classification runs on the most complete provisional text.
	text := s.RawText
	if text == "" {
		text = s.StableText
	}
	if cand, ok := p.detector.DetectCandidate(text); ok {
		ev := IntentEvent{UtteranceID: s.ID, Intent: cand, IsCandidate: true, EmittedAt: p.clock()}
		if p.metrics != nil {
			p.metrics.RecordIntent(context.Background(), string(cand.Type), string(cand.Subtype), true)
		}
		for _, fn := range p.snapshotIntentCand() {
			p.safeCall("intent_candidate", func() { fn(ev) })
		}
	}
}

func (p *Pipeline) handleFinal(u utterance.Utterance) {
	ctx := context.Background()
	if p.metrics != nil {
		p.metrics.ActiveUtterances.Add(ctx, -1)
		p.metrics.RecordUtteranceClosed(ctx, string(u.CloseReason), u.ClosedAt.Sub(u.OpenedAt).Seconds(), len(u.RawText))
	}
	for _, fn := range p.snapshotUttFinal() {
		p.safeCall("utterance_final", func() { fn(u) })
	}
	if p.recorder != nil {
		entry := record.UtteranceEntry{
			SessionID:     p.sessionID,
			UtteranceID:   u.ID,
			OpenedAt:      u.OpenedAt,
			ClosedAt:      u.ClosedAt,
			CommittedText: u.CommittedText,
			StableText:    u.StableText,
			RawText:       u.RawText,
			SpeakerID:     u.SpeakerID,
			CloseReason:   string(u.CloseReason),
		}
		if err := p.recorder.RecordUtterance(ctx, entry); err != nil {
			slog.Warn("pipeline: record utterance", "utterance_id", u.ID, "err", err)
		}
	}

	in := p.detector.DetectFinal(u.StableText)
	if p.dedup.IsDuplicate(in) {
		if p.metrics != nil {
			p.metrics.IntentsDeduplicated.Add(ctx, 1)
		}
		slog.Debug("pipeline: duplicate intent suppressed",
			"utterance_id", u.ID,
			"type", in.Type,
			"subtype", in.Subtype,
		)
		return
	}
	p.dedup.Record(in)

	ev := IntentEvent{UtteranceID: u.ID, Intent: in, EmittedAt: p.clock()}
	if p.metrics != nil {
		p.metrics.RecordIntent(ctx, string(in.Type), string(in.Subtype), false)
	}
	for _, fn := range p.snapshotIntentFinal() {
		p.safeCall("intent_final", func() { fn(ev) })
	}
	if p.recorder != nil {
		entry := record.IntentEntry{
			SessionID:   p.sessionID,
			UtteranceID: u.ID,
			Type:        string(in.Type),
			Subtype:     string(in.Subtype),
			Confidence:  in.Confidence,
			SourceText:  in.SourceText,
			Topic:       in.Slots.Topic,
			Count:       in.Slots.Count,
			Reference:   in.Slots.Reference,
			EmittedAt:   ev.EmittedAt,
		}
		if err := p.recorder.RecordIntent(ctx, entry); err != nil {
			slog.Warn("pipeline: record intent", "utterance_id", u.ID, "err", err)
		}
	}

	if in.Type == intent.TypeImperative {
		p.router.Route(in, u.ID)
	}
}

func (p *Pipeline) handleAction(ev action.Event) {
	ctx := context.Background()
	if p.metrics != nil {
		p.metrics.RecordAction(ctx, ev.ActionName, ev.WasDebounced)
	}
	for _, fn := range p.snapshotActions() {
		p.safeCall("action_triggered", func() { fn(ev) })
	}
	if p.recorder != nil {
		entry := record.ActionEntry{
			SessionID:    p.sessionID,
			UtteranceID:  ev.UtteranceID,
			ActionName:   ev.ActionName,
			SourceText:   ev.Intent.SourceText,
			WasDebounced: ev.WasDebounced,
			Timestamp:    ev.Timestamp,
		}
		if err := p.recorder.RecordAction(ctx, entry); err != nil {
			slog.Warn("pipeline: record action", "action", ev.ActionName, "err", err)
		}
	}
}

func (p *Pipeline) handleHandlerError(err error) {
	if p.metrics != nil {
		p.metrics.HandlerErrors.Add(context.Background(), 1)
	}
	p.reportError(err)
}

// emitAsr delivers a pass-through ASR event to its subscriber list.
func (p *Pipeline) emitAsr(fns []func(asr.Event), e asr.Event) {
	for _, fn := range fns {
		p.safeCall("asr", func() { fn(e) })
	}
}

// safeCall invokes a subscriber with panic recovery. Errors surface through
// the error callbacks; emission of later events is unaffected.
func (p *Pipeline) safeCall(event string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			p.reportError(fmt.Errorf("subscriber panic on %s: %v", event, rec))
		}
	}()
	fn()
}

// reportError fans an error out to the error subscribers. A panicking error
// subscriber is dropped silently; there is nowhere left to report it.
func (p *Pipeline) reportError(err error) {
	for _, fn := range p.snapshotErrors() {
		func() {
			defer func() { _ = recover() }()
			fn(err)
		}()
	}
}

// ---- subscriber list snapshots ----
//
// Lists are copied under the lock so no lock is held across callbacks.

func (p *Pipeline) snapshotAsrPartial() []func(asr.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onAsrPartial)
}

func (p *Pipeline) snapshotAsrFinal() []func(asr.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onAsrFinal)
}

func (p *Pipeline) snapshotUttOpen() []func(utterance.OpenInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onUttOpen)
}

func (p *Pipeline) snapshotUttUpdate() []func(utterance.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onUttUpdate)
}

func (p *Pipeline) snapshotUttFinal() []func(utterance.Utterance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onUttFinal)
}

func (p *Pipeline) snapshotIntentCand() []func(IntentEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onIntentCand)
}

func (p *Pipeline) snapshotIntentFinal() []func(IntentEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onIntentFinal)
}

func (p *Pipeline) snapshotActions() []func(action.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onActionTrigger)
}

func (p *Pipeline) snapshotErrors() []func(error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.onError)
}
