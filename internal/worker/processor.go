package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jwebster45206/pbem-engine/internal/assembler"
	"github.com/jwebster45206/pbem-engine/internal/commit"
	"github.com/jwebster45206/pbem-engine/internal/config"
	"github.com/jwebster45206/pbem-engine/internal/logger"
	"github.com/jwebster45206/pbem-engine/internal/narrator"
	"github.com/jwebster45206/pbem-engine/internal/services"
	"github.com/jwebster45206/pbem-engine/internal/services/events"
	"github.com/jwebster45206/pbem-engine/internal/turns"
	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/state"
	"github.com/jwebster45206/pbem-engine/pkg/storage"
	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when another pipeline run holds the guard for longer
// than the acquire timeout
var ErrBusy = errors.New("pipeline busy")

// Locker is a cross-process single-flight lock
type Locker interface {
	Acquire(ctx context.Context) (token string, ok bool, err error)
	Release(ctx context.Context, token string) error
}

// Options tune the processor
type Options struct {
	PollInterval        time.Duration
	GuardAcquireTimeout time.Duration
	RetryDelay          time.Duration
	MaxAttempts         int
	BatchErrorCap       int
}

// OptionsFromConfig maps the loaded configuration onto Options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:        cfg.PollInterval,
		GuardAcquireTimeout: cfg.GuardAcquireTimeout,
		RetryDelay:          cfg.RetryDelay,
		MaxAttempts:         cfg.MaxAttempts,
		BatchErrorCap:       cfg.BatchErrorCap,
	}
}

// Deps are the collaborators of one processor. Events and Lock are
// optional.
type Deps struct {
	Store     storage.Storage
	Assembler *assembler.Assembler
	LLM       services.LLMService
	Turns     *turns.Manager
	Committer *commit.Committer
	Events    events.Publisher
	Lock      Locker
}

// Result describes one ProcessNext call
type Result struct {
	Processed      bool       `json:"processed"`
	MessageID      *int64     `json:"message_id,omitempty"`
	ReplyID        *int64     `json:"reply_id,omitempty"`
	ReplyGenerated bool       `json:"reply_generated"`
	ReplyFallback  bool       `json:"reply_fallback,omitempty"`
	PhaseBefore    game.Phase `json:"phase_before,omitempty"`
	PhaseAfter     game.Phase `json:"phase_after,omitempty"`
	OutOfTurn      bool       `json:"out_of_turn"`
	Degraded       bool       `json:"degraded,omitempty"`
	Errors         []string   `json:"errors"`
}

// Processor runs the message pipeline one message at a time
type Processor struct {
	store     storage.Storage
	assembler *assembler.Assembler
	llm       services.LLMService
	turns     *turns.Manager
	committer *commit.Committer
	events    events.Publisher
	lock      Locker

	guard  *semaphore.Weighted
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewProcessor creates a processor
func NewProcessor(deps Deps, opts Options, logger *slog.Logger) *Processor {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.BatchErrorCap <= 0 {
		opts.BatchErrorCap = 20
	}
	return &Processor{
		store:     deps.Store,
		assembler: deps.Assembler,
		llm:       deps.LLM,
		turns:     deps.Turns,
		committer: deps.Committer,
		events:    deps.Events,
		lock:      deps.Lock,
		guard:     semaphore.NewWeighted(1),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// ProcessNext takes the oldest eligible message and runs it end to end.
// An empty queue yields a Result with Processed false and no MessageID.
// Failures of the message itself are reported in the Result; the error is
// reserved for ErrBusy and store outages.
func (p *Processor) ProcessNext(ctx context.Context) (Result, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return Result{Errors: []string{}}, err
	}
	defer release()

	msg, err := p.store.NextUnprocessedMessage(ctx, p.now(), p.opts.MaxAttempts)
	if err != nil {
		return Result{Errors: []string{}}, fmt.Errorf("failed to fetch next message: %w", err)
	}
	if msg == nil {
		return Result{Errors: []string{}}, nil
	}

	return p.run(ctx, msg), nil
}

// acquire takes the in-process guard and, when configured, the distributed
// lock. While either is held elsewhere it retries every poll interval until
// the acquire timeout passes.
func (p *Processor) acquire(ctx context.Context) (func(), error) {
	deadline := time.Now().Add(p.opts.GuardAcquireTimeout)

	for {
		if p.guard.TryAcquire(1) {
			release, ok, err := p.acquireLock(ctx)
			if err != nil {
				p.guard.Release(1)
				return nil, err
			}
			if ok {
				return func() {
					release()
					p.guard.Release(1)
				}, nil
			}
			p.guard.Release(1)
		}

		if !time.Now().Before(deadline) {
			return nil, ErrBusy
		}
		p.logger.Debug("Pipeline busy, waiting", "poll_interval", p.opts.PollInterval)

		timer := time.NewTimer(p.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Processor) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.lock == nil {
		return func() {}, true, nil
	}
	token, ok, err := p.lock.Acquire(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		if err := p.lock.Release(context.WithoutCancel(ctx), token); err != nil {
			p.logger.Warn("Failed to release pipeline lock", "error", err)
		}
	}, true, nil
}

// run executes every stage for msg. Panics before the commit become a
// failed result; a panic after it leaves the committed row alone.
func (p *Processor) run(ctx context.Context, msg *game.Message) (res Result) {
	start := p.now()
	log := logger.WithMessage(p.logger, msg.ID, msg.SceneID)
	proc := state.New(msg)
	var replyID *int64

	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while processing message", "panic", r, "stack", string(debug.Stack()))
			if replyID != nil {
				proc.AddError("pipeline", fmt.Errorf("panic after commit: %v", r))
				res = p.result(proc, replyID)
				return
			}
			res = p.fail(ctx, log, proc, fmt.Errorf("panic: %v", r))
		}
	}()

	log.Info("Processing message", "sender", msg.Sender)
	if err := p.events.MessageProcessing(ctx, msg.CampaignID, msg.ID); err != nil {
		log.Warn("Failed to publish processing event", "error", err)
	}

	if err := p.resolve(ctx, proc); err != nil {
		return p.fail(ctx, log, proc, err)
	}
	log = log.With("character_id", proc.Character.ID)

	phase := proc.Context.Scene.Phase
	if !phase.Valid() {
		phase = game.PhaseNarration
	}
	proc.PhaseBefore = phase
	strategy := narrator.For(phase, p.llm, log)

	// classify
	c, err := strategy.Classify(ctx, narrator.ClassifyInput{
		Context: proc.Context,
		Message: msg,
		Actor:   proc.Character,
	})
	if err != nil {
		proc.AddError("classify", err)
		c = state.DefaultClassification(phase)
	}
	proc.Classification = &c
	proc.PhaseAfter, _ = c.Target(phase)

	// turns
	plan, err := p.turns.Plan(ctx, turns.PlanInput{
		Context:     proc.Context,
		Actor:       proc.Character,
		PhaseBefore: proc.PhaseBefore,
		PhaseAfter:  proc.PhaseAfter,
	})
	if err != nil {
		return p.fail(ctx, log, proc, fmt.Errorf("failed to plan turn: %w", err))
	}
	proc.TurnPlan = plan.TurnPlan
	proc.OutOfTurn = plan.OutOfTurn

	// state changes
	if proc.OutOfTurn {
		if len(c.StateChanges) > 0 {
			log.Info("Withholding state changes of out-of-turn action", "changes", len(c.StateChanges))
		}
	} else {
		delta, skipped := state.ApplyStateChanges(c.StateChanges, proc.Context.Characters, proc.Character)
		proc.StateDelta = delta
		for _, s := range skipped {
			log.Debug("Skipping state change", "character", s.Character, "field", s.Field)
		}
	}

	// generate
	reply := strategy.Generate(ctx, narrator.GenerateInput{
		Context:        proc.Context,
		Message:        msg,
		Actor:          proc.Character,
		Classification: c,
		TargetPhase:    proc.PhaseAfter,
		Order:          plan.Order,
		OutOfTurn:      plan.OutOfTurn,
		ExpectedID:     plan.ExpectedID,
		NextActiveID:   plan.NextActiveID,
	})
	if reply.Err != nil {
		proc.AddError("generate", reply.Err)
	}
	proc.Reply = reply.Text
	proc.ReplyFallback = reply.Fallback

	// commit
	id, err := p.committer.Commit(ctx, proc)
	if errors.Is(err, storage.ErrAlreadyProcessed) {
		log.Warn("Message was processed by another run, dropping result")
		proc.AddError("commit", err)
		return p.result(proc, nil)
	}
	if err != nil {
		return p.fail(ctx, log, proc, fmt.Errorf("failed to commit: %w", err))
	}
	replyID = &id

	if err := p.events.MessageProcessed(ctx, msg.CampaignID, msg.ID, id, string(proc.PhaseBefore), string(proc.PhaseAfter), proc.OutOfTurn); err != nil {
		log.Warn("Failed to publish processed event", "error", err)
	}
	if proc.PhaseChanged() {
		if err := p.events.PhaseChanged(ctx, msg.CampaignID, proc.SceneID(), string(proc.PhaseBefore), string(proc.PhaseAfter)); err != nil {
			log.Warn("Failed to publish phase event", "error", err)
		}
	}

	log.Info("Message processed",
		"reply_id", id,
		"phase_before", proc.PhaseBefore,
		"phase_after", proc.PhaseAfter,
		"out_of_turn", proc.OutOfTurn,
		"fallback", proc.ReplyFallback,
		"recovered_errors", len(proc.Errors),
		"duration_ms", p.now().Sub(start).Milliseconds())

	return p.result(proc, replyID)
}

// resolve loads the scene context and the acting character. Both are
// required; a missing one fails the message.
func (p *Processor) resolve(ctx context.Context, proc *state.Processing) error {
	msg := proc.Message
	if msg.SceneID == nil {
		return fmt.Errorf("message %d has no scene: %w", msg.ID, storage.ErrNotFound)
	}

	c, err := p.assembler.Assemble(ctx, *msg.SceneID)
	if err != nil {
		return fmt.Errorf("failed to assemble context: %w", err)
	}
	proc.Context = c
	proc.Scene = &c.Scene
	proc.Story = &c.Story
	proc.Campaign = &c.Campaign

	switch {
	case msg.CharacterID != nil:
		if ch := c.Character(*msg.CharacterID); ch != nil {
			proc.Character = ch
			return nil
		}
		ch, err := p.store.GetCharacter(ctx, *msg.CharacterID)
		if err != nil {
			return fmt.Errorf("failed to load character: %w", err)
		}
		proc.Character = ch
	default:
		campaignID := msg.CampaignID
		if campaignID == 0 {
			campaignID = c.Campaign.ID
		}
		ch, err := p.store.FindCharacterBySender(ctx, campaignID, msg.Sender)
		if err != nil {
			return fmt.Errorf("failed to resolve character for %s: %w", msg.Sender, err)
		}
		if known := c.Character(ch.ID); known != nil {
			ch = known
		}
		proc.Character = ch
	}
	return nil
}

// fail records the failure on the message so it is retried after the
// retry delay, and reports it
func (p *Processor) fail(ctx context.Context, log *slog.Logger, proc *state.Processing, cause error) Result {
	msg := proc.Message
	log.Error("Message processing failed", "error", cause, "attempt", msg.Attempts+1)
	proc.AddError("pipeline", cause)

	bg := context.WithoutCancel(ctx)
	retryAt := p.now().Add(p.opts.RetryDelay)
	if err := p.store.RecordMessageFailure(bg, msg.ID, cause.Error(), retryAt); err != nil {
		log.Error("Failed to record message failure", "error", err)
		proc.AddError("record_failure", err)
	}
	if err := p.events.MessageFailed(bg, msg.CampaignID, msg.ID, cause.Error()); err != nil {
		log.Warn("Failed to publish failure event", "error", err)
	}

	return p.result(proc, nil)
}

func (p *Processor) result(proc *state.Processing, replyID *int64) Result {
	res := Result{
		Processed:   replyID != nil,
		MessageID:   &proc.Message.ID,
		ReplyID:     replyID,
		PhaseBefore: proc.PhaseBefore,
		PhaseAfter:  proc.PhaseAfter,
		OutOfTurn:   proc.OutOfTurn,
		Errors:      proc.Errors,
	}
	if replyID != nil {
		res.ReplyGenerated = true
		res.ReplyFallback = proc.ReplyFallback
	}
	if proc.Context != nil {
		res.Degraded = proc.Context.Degraded
	}
	return res
}

// BatchResult summarizes a ProcessBatch call
type BatchResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
	Results   []Result `json:"results"`
	// Busy is set when the batch stopped because another run held the guard
	Busy bool `json:"busy,omitempty"`
}

// ProcessBatch calls ProcessNext up to n times, stopping early when the
// queue is empty. Per-message failures do not stop the batch; ErrBusy and
// store outages do.
func (p *Processor) ProcessBatch(ctx context.Context, n int) BatchResult {
	out := BatchResult{Errors: []string{}, Results: []Result{}}

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			p.addBatchError(&out, ctx.Err().Error())
			break
		}

		res, err := p.ProcessNext(ctx)
		if err != nil {
			out.Busy = errors.Is(err, ErrBusy)
			p.addBatchError(&out, err.Error())
			break
		}
		if res.MessageID == nil {
			break
		}

		out.Processed++
		out.Results = append(out.Results, res)
		if res.Processed {
			out.Succeeded++
			continue
		}
		out.Failed++
		for _, e := range res.Errors {
			p.addBatchError(&out, fmt.Sprintf("message %d: %s", *res.MessageID, e))
		}
	}

	p.logger.Info("Batch finished",
		"processed", out.Processed,
		"succeeded", out.Succeeded,
		"failed", out.Failed)
	return out
}

func (p *Processor) addBatchError(out *BatchResult, e string) {
	if len(out.Errors) < p.opts.BatchErrorCap {
		out.Errors = append(out.Errors, e)
	}
}

// Stats reports queue health
func (p *Processor) Stats(ctx context.Context) (game.Stats, error) {
	return p.store.Stats(ctx, p.now(), p.opts.MaxAttempts)
}
