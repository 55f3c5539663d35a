package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harborline/docent/internal/chat"
	"github.com/harborline/docent/internal/events"
	"github.com/harborline/docent/internal/kb"
	"github.com/harborline/docent/internal/llm"
)

// Run is one streaming answer to one inbound message. All turn state
// is owned by the run's goroutine; done and the accumulated text are
// guarded because the stop path touches them from the chat client's
// read goroutine.
type Run struct {
	runner    *Runner
	id        string
	channelID string
	messageID string
	userText  string
	imageURL  string
	logger    *slog.Logger

	startedAt time.Time

	mu          sync.Mutex
	done        bool
	disposed    bool
	stopped     bool
	accumulated string
	lastFlush   time.Time
	images      []kb.ImageRecord
	imageSeen   map[string]bool

	// archive bookkeeping
	turns        int
	inputTokens  int
	outputTokens int
	toolCounts   map[string]int
	errText      string
}

// isDone reports whether the run has been stopped or finished. Once
// true, every later flush or status update is a no-op.
func (r *Run) isDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// dispose tears the run down: exactly once it unregisters the run,
// clears the status indicator, and invokes the cleanup callback. Every
// later call is a no-op. Both the normal completion path and the stop
// path end here.
func (r *Run) dispose(ctx context.Context) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	r.done = true
	r.mu.Unlock()

	r.runner.unregister(r.messageID)
	if err := r.runner.conn.SendStatus(ctx, r.channelID, ""); err != nil {
		r.logger.Debug("failed to clear status", "error", err)
	}
	if r.runner.cleanup != nil {
		r.runner.cleanup(r.messageID)
	}
}

// loop drives the turn state machine to completion.
func (r *Run) loop(ctx context.Context) {
	specs := r.runner.dispatcher.Specs()

	var history []llm.Message
	var pending []llm.Message
	userText := r.userText
	imageURL := r.imageURL
	firstTurn := true

	for {
		if r.isDone() {
			return
		}

		// Assemble this turn: pending tool results first, then the
		// user content. An empty turn is the loop's natural exit.
		turn := pending
		pending = nil

		userMsg := llm.Message{Role: "user", Content: userText}
		if firstTurn && imageURL != "" {
			payload, err := r.runner.fetcher.Fetch(ctx, imageURL)
			if err != nil {
				r.fail(ctx, "I couldn't read the attached image.", err)
				return
			}
			userMsg.Image = payload.Data
			userMsg.MediaType = payload.MediaType
		}
		if userMsg.Content != "" || userMsg.Image != "" {
			turn = append(turn, userMsg)
		}
		userText = ""
		firstTurn = false

		if len(turn) == 0 {
			r.complete(ctx)
			return
		}
		history = append(history, turn...)

		r.runner.bus.Emit(events.SourceAgent, events.KindModelCall, map[string]any{
			"run_id": r.id, "messages": len(history),
		})

		resp, err := r.runner.streamWithRetry(ctx, history, specs, r.onStreamEvent(ctx))
		if err != nil {
			r.fail(ctx, "something went wrong while generating the answer.", err)
			return
		}
		history = append(history, resp.Message)

		r.mu.Lock()
		r.turns++
		r.inputTokens += resp.InputTokens
		r.outputTokens += resp.OutputTokens
		r.mu.Unlock()

		if len(resp.Message.ToolCalls) == 0 {
			r.finish(ctx)
			return
		}

		if !r.isDone() {
			if err := r.runner.conn.SendStatus(ctx, r.channelID, statusConsulting); err != nil {
				r.logger.Debug("failed to send status", "error", err)
			}
		}
		for _, call := range resp.Message.ToolCalls {
			r.mu.Lock()
			if r.toolCounts == nil {
				r.toolCounts = make(map[string]int)
			}
			r.toolCounts[call.Name]++
			r.mu.Unlock()

			res := r.runner.dispatcher.Dispatch(ctx, call)
			pending = append(pending, llm.Message{
				Role:       "tool",
				ToolCallID: res.CallID,
				Content:    res.Content,
			})
			if len(res.Images) > 0 {
				r.addImages(res.Images)
			}
		}
	}
}

// onStreamEvent appends text deltas and opportunistically flushes the
// outbound message when the flush interval has elapsed. The final
// flush is never withheld; it happens in finish.
func (r *Run) onStreamEvent(ctx context.Context) llm.StreamCallback {
	return func(ev llm.StreamEvent) {
		if ev.Kind != llm.KindToken {
			return
		}

		r.mu.Lock()
		r.accumulated += ev.Token
		now := r.runner.now()
		flush := !r.done && r.accumulated != "" && now.Sub(r.lastFlush) >= r.runner.flushInterval
		var text string
		if flush {
			r.lastFlush = now
			text = r.accumulated
		}
		r.mu.Unlock()

		if flush {
			// Full-text replace: a late or reordered update is
			// harmless because each one carries everything so far.
			if err := r.runner.conn.UpdateMessage(ctx, r.messageID, text, nil); err != nil {
				r.logger.Warn("streaming update failed", "error", err)
			}
		}
	}
}

// addImages records ranked image results for attachment to the final
// message, deduplicated by id, first come first kept.
func (r *Run) addImages(records []kb.ImageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.imageSeen == nil {
		r.imageSeen = make(map[string]bool)
	}
	for _, rec := range records {
		if r.imageSeen[rec.ID] {
			continue
		}
		r.imageSeen[rec.ID] = true
		r.images = append(r.images, rec)
	}
}

// finish flushes the complete accumulated text with any image
// attachments, then completes the run.
func (r *Run) finish(ctx context.Context) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	text := r.accumulated
	var attachments []chat.Attachment
	for _, rec := range r.images {
		if len(attachments) >= r.runner.maxAttachments {
			break
		}
		if rec.Link == "" {
			continue
		}
		attachments = append(attachments, chat.Attachment{Name: rec.Name, URL: rec.Link})
	}
	r.mu.Unlock()

	if err := r.runner.conn.UpdateMessage(ctx, r.messageID, text, attachments); err != nil {
		r.logger.Warn("final update failed", "error", err)
	}
	r.complete(ctx)
}

func (r *Run) complete(ctx context.Context) {
	r.logger.Info("run complete")
	r.runner.bus.Emit(events.SourceAgent, events.KindRunComplete, map[string]any{
		"run_id": r.id, "message": r.messageID,
	})
	r.dispose(ctx)
}

// fail replaces the outbound message with a short plain notice and
// tears the run down. Internal detail goes to the log, not the user.
func (r *Run) fail(ctx context.Context, notice string, err error) {
	r.logger.Error("run failed", "error", err)
	r.mu.Lock()
	r.errText = err.Error()
	r.mu.Unlock()
	r.runner.bus.Emit(events.SourceAgent, events.KindRunFailed, map[string]any{
		"run_id": r.id, "message": r.messageID, "error": err.Error(),
	})

	if !r.isDone() {
		if uerr := r.runner.conn.UpdateMessage(ctx, r.messageID, failurePrefix+notice, nil); uerr != nil {
			r.logger.Warn("failed to deliver failure notice", "error", uerr)
		}
	}
	r.dispose(ctx)
}
