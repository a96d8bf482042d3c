// Package flow runs the webhook event pipeline: intake checks, trigger
// classification, media resolution, completion, and reply dispatch.
package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Akasha/internal/dedup"
	"github.com/BTreeMap/Akasha/internal/genai"
	"github.com/BTreeMap/Akasha/internal/models"
	"github.com/BTreeMap/Akasha/internal/ratelimit"
	"github.com/BTreeMap/Akasha/internal/summarizer"
	"github.com/BTreeMap/Akasha/internal/trigger"
)

// DefaultProcessTimeout bounds one event's full pipeline run, including
// credential rotation and provider fallback.
const DefaultProcessTimeout = 5 * time.Minute

// Answerer runs one user query through the completion chain.
// *genai.Orchestrator satisfies it.
type Answerer interface {
	Answer(ctx context.Context, q *genai.QueryInput) (*models.Completion, error)
}

// Replier delivers outbound replies and user-safe failure notices.
// *messaging.Dispatcher satisfies it.
type Replier interface {
	SendThreaded(ctx context.Context, to, body, replyTo string, kind models.MessageLogKind) (string, error)
	SendApology(ctx context.Context, to, replyTo string, cause error, image bool)
}

// ChatSummarizer matches and serves the in-chat summary command.
// *summarizer.Summarizer satisfies it.
type ChatSummarizer interface {
	MatchCommand(text string) (int, bool)
	Summarize(ctx context.Context, chatJID string, count int) (*models.SummaryResult, error)
}

// Opts holds configuration options for the processor.
type Opts struct {
	// Limiter bounds per-sender webhook throughput. Nil disables limiting.
	Limiter *ratelimit.Limiter
	// Summarizer serves the in-chat summary command. Nil disables it.
	Summarizer ChatSummarizer
	// Timeout bounds one event's pipeline run.
	Timeout time.Duration
}

// Option defines a configuration option for the processor.
type Option func(*Opts)

// WithRateLimiter bounds per-sender webhook throughput.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(o *Opts) { o.Limiter = l }
}

// WithSummarizer enables the in-chat summary command.
func WithSummarizer(s ChatSummarizer) Option {
	return func(o *Opts) { o.Summarizer = s }
}

// WithProcessTimeout bounds one event's pipeline run.
func WithProcessTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Processor runs the intake pipeline for webhook events.
//
// Events are handled on their own goroutines so the webhook handler can
// acknowledge immediately; the gateway redelivers when an acknowledgement
// takes too long, and the duplicate tracker absorbs those redeliveries.
type Processor struct {
	classifier *trigger.Classifier
	own        *dedup.Tracker
	seen       *dedup.Tracker
	media      *MediaFetcher
	answerer   Answerer
	dispatcher Replier
	limiter    *ratelimit.Limiter
	summarizer ChatSummarizer
	timeout    time.Duration
	wg         sync.WaitGroup
}

// NewProcessor creates a processor. The own tracker holds the bot's sent
// message IDs (skip self-replies), the seen tracker holds processed inbound
// IDs (skip redeliveries).
func NewProcessor(classifier *trigger.Classifier, own, seen *dedup.Tracker, media *MediaFetcher, answerer Answerer, dispatcher Replier, opts ...Option) *Processor {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProcessTimeout
	}
	return &Processor{
		classifier: classifier,
		own:        own,
		seen:       seen,
		media:      media,
		answerer:   answerer,
		dispatcher: dispatcher,
		limiter:    cfg.Limiter,
		summarizer: cfg.Summarizer,
		timeout:    cfg.Timeout,
	}
}

// HandleAsync processes the event on its own goroutine with the configured
// timeout. The caller can acknowledge the webhook immediately.
func (p *Processor) HandleAsync(event *models.WebhookEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		p.Process(ctx, event)
	}()
}

// Wait blocks until all in-flight events finish processing. Used by tests
// and graceful shutdown.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Process runs the intake pipeline for one webhook event. Every outcome is
// terminal here: failures turn into user-safe notices, never errors for the
// webhook handler, which has already acknowledged.
func (p *Processor) Process(ctx context.Context, event *models.WebhookEvent) {
	if p.limiter != nil && !p.limiter.Allow(event.From) {
		slog.Warn("Processor.Process: rate limit exceeded", "sender", event.From)
		return
	}

	messageID := event.MessageID()
	if p.own != nil && p.own.IsDuplicate(messageID) {
		slog.Debug("Processor.Process: skipping own message", "message_id", messageID)
		return
	}
	if p.seen != nil && p.seen.CheckAndRecord(messageID) {
		slog.Debug("Processor.Process: skipping already processed message", "message_id", messageID)
		return
	}

	// Remember where the gateway stored auto-downloaded media; replies
	// quoting this message resolve the bytes from here.
	if event.FilePath != "" && event.ID != "" {
		p.media.CachePath(event.ID, event.FilePath)
		slog.Debug("Processor.Process: cached media file path", "message_id", event.ID, "file_path", event.FilePath)
	}

	kind := event.Kind()
	switch kind {
	case models.EventKindText, models.EventKindImage:
	default:
		slog.Debug("Processor.Process: event kind not processed", "kind", kind, "from", event.From)
		return
	}

	if kind == models.EventKindText && p.summarizer != nil {
		if count, ok := p.summarizer.MatchCommand(event.Text()); ok {
			p.handleSummary(ctx, event, count)
			return
		}
	}

	decision := p.classifier.Classify(event)
	if decision.Kind == models.TriggerIgnored {
		slog.Debug("Processor.Process: message does not address assistant", "from", event.From, "kind", kind)
		return
	}
	slog.Info("Processor.Process: trigger accepted", "trigger", decision.Kind, "event", kind, "from", event.From)

	var imageData []byte
	var imageMIME string
	switch {
	case kind == models.EventKindImage:
		if messageID == "" {
			slog.Warn("Processor.Process: image message without identifier, cannot download", "from", event.From)
			return
		}
		data, mime, err := p.media.Fetch(ctx, event)
		if err != nil {
			slog.Error("Processor.Process: image download failed", "error", err, "message_id", messageID)
			p.dispatcher.SendApology(ctx, event.ReplyJID(), messageID, err, true)
			return
		}
		imageData, imageMIME = data, mime
	case event.ReplyID() != "":
		// A text reply may quote an earlier media message; fetch it so the
		// model can see what the user is asking about.
		imageData, imageMIME = p.media.FetchQuoted(ctx, event)
	}

	completion, err := p.answerer.Answer(ctx, &genai.QueryInput{
		Query:         decision.Query,
		QuotedContext: decision.QuotedContext,
		ImageData:     imageData,
		ImageMIME:     imageMIME,
	})
	if err != nil {
		slog.Error("Processor.Process: completion failed", "error", err, "from", event.From)
		p.dispatcher.SendApology(ctx, event.ReplyJID(), messageID, err, len(imageData) > 0)
		return
	}

	if _, err := p.dispatcher.SendThreaded(ctx, event.ReplyJID(), completion.Text, messageID, models.MessageLogKindReply); err != nil {
		slog.Error("Processor.Process: reply dispatch failed", "error", err, "to", event.ReplyJID())
	}
}

// handleSummary serves the in-chat summary command for the chat the event
// arrived in.
func (p *Processor) handleSummary(ctx context.Context, event *models.WebhookEvent, count int) {
	chatJID := event.DownloadJID()
	slog.Info("Processor.handleSummary: summary requested", "chat_jid", chatJID, "count", count)

	result, err := p.summarizer.Summarize(ctx, chatJID, count)
	if err != nil {
		slog.Error("Processor.handleSummary: summary failed", "error", err, "chat_jid", chatJID)
		p.dispatcher.SendApology(ctx, event.ReplyJID(), event.MessageID(), err, false)
		return
	}

	reply := summarizer.FormatReply(result)
	if _, err := p.dispatcher.SendThreaded(ctx, event.ReplyJID(), reply, event.MessageID(), models.MessageLogKindSummary); err != nil {
		slog.Error("Processor.handleSummary: reply dispatch failed", "error", err, "to", event.ReplyJID())
	}
}
