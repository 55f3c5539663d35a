// Package agent runs the assistant's conversation loop: one Run per
// inbound message, streaming model output into the outbound chat
// message and dispatching tool calls between turns.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/docent/internal/chat"
	"github.com/harborline/docent/internal/events"
	"github.com/harborline/docent/internal/llm"
	"github.com/harborline/docent/internal/media"
	"github.com/harborline/docent/internal/runlog"
	"github.com/harborline/docent/internal/throttle"
	"github.com/harborline/docent/internal/tools"
)

const (
	// DefaultFlushInterval is the minimum gap between streaming
	// message updates.
	DefaultFlushInterval = 1500 * time.Millisecond

	// DefaultThrottleInterval is the minimum gap between run starts
	// on one conversation.
	DefaultThrottleInterval = 15 * time.Second

	// DefaultBackoffBase seeds the exponential retry delay on rate
	// limiting.
	DefaultBackoffBase = 2 * time.Second

	// DefaultMaxAttempts bounds model call retries per turn.
	DefaultMaxAttempts = 4

	// DefaultMaxAttachments caps how many ranked images are attached
	// to the final message.
	DefaultMaxAttachments = 4
)

const (
	statusConsulting = "consulting sources"
	waitMessage      = "One moment, please — I'm still working on the previous message."
	failurePrefix    = "⚠️ Sorry — "
)

// Conn is the slice of the chat client a run needs.
type Conn interface {
	SendMessage(ctx context.Context, channelID, text string) (string, error)
	UpdateMessage(ctx context.Context, messageID, text string, attachments []chat.Attachment) error
	SendStatus(ctx context.Context, channelID, status string) error
}

// Dispatcher routes tool calls; see the tools package.
type Dispatcher interface {
	Specs() []llm.ToolSpec
	Dispatch(ctx context.Context, call llm.ToolCall) tools.Result
}

// ImageFetcher fetches an inbound image attachment for the model.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*media.Payload, error)
}

// Recorder archives finished runs; see the runlog package.
type Recorder interface {
	Record(rec *runlog.Record) error
}

// Runner owns the collaborators shared by all runs and tracks the
// active runs by outbound message id so stop requests can be routed.
type Runner struct {
	llm        llm.Client
	conn       Conn
	dispatcher Dispatcher
	fetcher    ImageFetcher
	ledger     *throttle.Ledger
	logger     *slog.Logger
	bus        *events.Bus

	flushInterval    time.Duration
	throttleInterval time.Duration
	backoffBase      time.Duration
	maxAttempts      int
	maxAttachments   int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	cleanup  func(messageID string)
	recorder Recorder

	runsMu sync.Mutex
	runs   map[string]*Run
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithFlushInterval overrides the streaming update interval.
func WithFlushInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.flushInterval = d }
}

// WithThrottleInterval overrides the per-conversation start interval.
func WithThrottleInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.throttleInterval = d }
}

// WithRetryPolicy overrides the rate-limit retry parameters.
func WithRetryPolicy(base time.Duration, maxAttempts int) RunnerOption {
	return func(r *Runner) {
		r.backoffBase = base
		r.maxAttempts = maxAttempts
	}
}

// WithCleanup registers a callback invoked once per run on dispose.
func WithCleanup(fn func(messageID string)) RunnerOption {
	return func(r *Runner) { r.cleanup = fn }
}

// WithRecorder archives finished runs through rec.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithClock overrides time and sleeping. Used by tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) {
		r.now = now
		r.sleep = sleep
	}
}

// NewRunner creates a Runner.
func NewRunner(llmClient llm.Client, conn Conn, dispatcher Dispatcher, fetcher ImageFetcher, ledger *throttle.Ledger, logger *slog.Logger, bus *events.Bus, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		llm:              llmClient,
		conn:             conn,
		dispatcher:       dispatcher,
		fetcher:          fetcher,
		ledger:           ledger,
		logger:           logger,
		bus:              bus,
		flushInterval:    DefaultFlushInterval,
		throttleInterval: DefaultThrottleInterval,
		backoffBase:      DefaultBackoffBase,
		maxAttempts:      DefaultMaxAttempts,
		maxAttachments:   DefaultMaxAttachments,
		now:              time.Now,
		sleep:            sleepContext,
		runs:             make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleMessage serves one inbound message to completion. Call it from
// its own goroutine; it blocks for the life of the run.
func (r *Runner) HandleMessage(ctx context.Context, msg chat.Message) {
	runID, _ := uuid.NewV7()
	logger := r.logger.With("run_id", runID.String(), "channel", msg.ChannelID)

	// Throttle before anything touches the model. The ledger records
	// the start time on acceptance, so a concurrent burst on one
	// conversation admits exactly one run.
	if !r.ledger.Begin(msg.ChannelID, r.now(), r.throttleInterval) {
		logger.Info("run throttled")
		r.bus.Emit(events.SourceAgent, events.KindRunThrottled, map[string]any{"channel": msg.ChannelID})
		if _, err := r.conn.SendMessage(ctx, msg.ChannelID, waitMessage); err != nil {
			logger.Warn("failed to send wait message", "error", err)
		}
		return
	}

	messageID, err := r.conn.SendMessage(ctx, msg.ChannelID, "…")
	if err != nil {
		logger.Error("failed to open outbound message", "error", err)
		return
	}

	run := &Run{
		runner:    r,
		id:        runID.String(),
		channelID: msg.ChannelID,
		messageID: messageID,
		userText:  msg.Text,
		imageURL:  msg.ImageURL,
		startedAt: r.now(),
		logger:    logger.With("message", messageID),
	}

	r.runsMu.Lock()
	r.runs[messageID] = run
	r.runsMu.Unlock()

	r.bus.Emit(events.SourceAgent, events.KindRunStart, map[string]any{
		"run_id": run.id, "channel": msg.ChannelID, "message": messageID,
	})

	run.loop(ctx)
	run.dispose(ctx)
	r.archive(run)
}

// archive stores the finished run, if a recorder is configured.
func (r *Runner) archive(run *Run) {
	if r.recorder == nil {
		return
	}

	run.mu.Lock()
	rec := &runlog.Record{
		ID:           run.id,
		ChannelID:    run.channelID,
		MessageID:    run.messageID,
		UserText:     run.userText,
		FinalText:    run.accumulated,
		Turns:        run.turns,
		ToolsCalled:  run.toolCounts,
		InputTokens:  run.inputTokens,
		OutputTokens: run.outputTokens,
		Stopped:      run.stopped,
		StartedAt:    run.startedAt,
		CompletedAt:  r.now(),
		Error:        run.errText,
	}
	rec.DurationMs = rec.CompletedAt.Sub(rec.StartedAt).Milliseconds()
	run.mu.Unlock()

	if err := r.recorder.Record(rec); err != nil {
		run.logger.Warn("failed to archive run", "error", err)
	}
}

// HandleStop routes a stop request to the matching active run. Stops
// for unknown message ids are ignored.
func (r *Runner) HandleStop(ctx context.Context, stop chat.StopRequest) {
	r.runsMu.Lock()
	run := r.runs[stop.MessageID]
	r.runsMu.Unlock()
	if run == nil {
		return
	}

	run.logger.Info("stop requested")
	r.bus.Emit(events.SourceAgent, events.KindStopReceived, map[string]any{"message": stop.MessageID})
	run.mu.Lock()
	run.stopped = true
	run.mu.Unlock()
	run.dispose(ctx)
}

// ActiveRuns returns the number of runs currently registered.
func (r *Runner) ActiveRuns() int {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	return len(r.runs)
}

func (r *Runner) unregister(messageID string) {
	r.runsMu.Lock()
	delete(r.runs, messageID)
	r.runsMu.Unlock()
}

// streamWithRetry issues one streaming turn, retrying on rate limiting
// with exponential backoff. The delay after the nth rate-limited
// attempt is base·2ⁿ, or the server's Retry-After when longer. Any
// other failure, or running out of attempts, is returned to the caller.
func (r *Runner) streamWithRetry(ctx context.Context, messages []llm.Message, specs []llm.ToolSpec, cb llm.StreamCallback) (*llm.ChatResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := r.llm.ChatStream(ctx, messages, specs, cb)
		if err == nil {
			return resp, nil
		}

		var rl *llm.RateLimitError
		if !errors.As(err, &rl) {
			return nil, err
		}
		if attempt >= r.maxAttempts {
			return nil, fmt.Errorf("rate limited after %d attempts: %w", attempt, err)
		}

		delay := r.backoffBase << attempt
		if rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		r.logger.Warn("rate limited, backing off", "attempt", attempt, "delay", delay)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}
