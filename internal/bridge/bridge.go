// Package bridge routes inbound chat traffic into the agent: one run
// per message, stop requests delivered to their matching run.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harborline/docent/internal/chat"
)

// handleTimeout bounds how long a single inbound message may be
// processed end to end.
const handleTimeout = 5 * time.Minute

// Runner abstracts the agent for testability. The real implementation
// is *agent.Runner.
type Runner interface {
	HandleMessage(ctx context.Context, msg chat.Message)
	HandleStop(ctx context.Context, stop chat.StopRequest)
}

// Bridge fans chat events out to the runner.
type Bridge struct {
	messages <-chan chat.Message
	stops    <-chan chat.StopRequest
	runner   Runner
	channel  string // restrict to one channel; empty accepts all
	logger   *slog.Logger

	wg sync.WaitGroup
}

// Config holds the dependencies for a Bridge.
type Config struct {
	Messages <-chan chat.Message
	Stops    <-chan chat.StopRequest
	Runner   Runner
	Channel  string
	Logger   *slog.Logger
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		messages: cfg.Messages,
		stops:    cfg.Stops,
		runner:   cfg.Runner,
		channel:  cfg.Channel,
		logger:   logger,
	}
}

// Start routes events until ctx is cancelled. Each inbound message is
// served from its own goroutine so a slow run never blocks stop
// delivery; stops are routed inline because they only flip run state.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("chat bridge started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("chat bridge stopping")
			return

		case msg, ok := <-b.messages:
			if !ok {
				b.logger.Info("message channel closed")
				return
			}
			if b.channel != "" && msg.ChannelID != b.channel {
				b.logger.Debug("ignoring message outside configured channel", "channel", msg.ChannelID)
				continue
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				runCtx, cancel := context.WithTimeout(ctx, handleTimeout)
				defer cancel()
				b.runner.HandleMessage(runCtx, msg)
			}()

		case stop, ok := <-b.stops:
			if !ok {
				return
			}
			b.runner.HandleStop(ctx, stop)
		}
	}
}

// Wait blocks until all in-flight runs have finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}
