// Package api provides the HTTP surface and the main server wiring for
// Akasha.
//
// It exposes the GoWA webhook intake plus endpoints for health, direct
// queries, passage generation, and chat summaries, and assembles the
// gateway, store, orchestrator, and scheduler modules into a running
// service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/Akasha/internal/dedup"
	"github.com/BTreeMap/Akasha/internal/flow"
	"github.com/BTreeMap/Akasha/internal/genai"
	"github.com/BTreeMap/Akasha/internal/gowa"
	"github.com/BTreeMap/Akasha/internal/messaging"
	"github.com/BTreeMap/Akasha/internal/models"
	"github.com/BTreeMap/Akasha/internal/passage"
	"github.com/BTreeMap/Akasha/internal/ratelimit"
	"github.com/BTreeMap/Akasha/internal/scheduler"
	"github.com/BTreeMap/Akasha/internal/store"
	"github.com/BTreeMap/Akasha/internal/summarizer"
	"github.com/BTreeMap/Akasha/internal/trigger"
	"github.com/BTreeMap/Akasha/internal/twiliowhatsapp"
	"github.com/BTreeMap/Akasha/internal/websearch"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

// Messaging backends selectable by configuration.
const (
	// BackendGowa sends through the GoWA gateway (default).
	BackendGowa = "gowa"
	// BackendTwilio sends through the Twilio WhatsApp API.
	BackendTwilio = "twilio"
)

// Default configuration applied when options omit a value.
const (
	// DefaultAddr is the API listen address.
	DefaultAddr = ":8080"
	// DefaultScheduleHour is the daily passage hour.
	DefaultScheduleHour = 7
	// DefaultScheduleMinute is the daily passage minute.
	DefaultScheduleMinute = 0
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultHealthTimeout bounds the gateway health probe.
	DefaultHealthTimeout = 5 * time.Second
	// DefaultJobTimeout bounds one passage generation and broadcast run.
	DefaultJobTimeout = 10 * time.Minute

	// placeholderSecret is the compose file's placeholder value; signature
	// verification stays off until a real secret replaces it.
	placeholderSecret = "your-secret-key"
)

// Opts holds configuration options for the API server and the modules Run
// wires together.
type Opts struct {
	Addr            string        // listen address
	WebhookSecret   string        // HMAC secret for webhook signatures
	TriggerPhrase   string        // chat trigger phrase
	Recipients      []string      // daily passage recipients
	ScheduleHour    int           // daily passage hour
	ScheduleMinute  int           // daily passage minute
	Timezone        string        // scheduler timezone
	RateLimitMax    int           // webhook requests per sender per window
	RateLimitWindow time.Duration // webhook rate limit window
	SearchAPIKey    string        // Google custom search API key
	SearchEngineID  string        // Google custom search engine ID
	TopicMode       string        // passage topic selection mode
	MaxConcurrent   int           // parallel passage sends
	SummarizeMax    int           // summarizer history cap
	Backend         string        // messaging backend: gowa or twilio

	// Wired by Run, consumed by NewServer.
	Limiter *ratelimit.Limiter // webhook rate limiter, for the cleanup loop
	Search  *websearch.Client  // web search client, for status reporting
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWebhookSecret enables webhook signature verification.
func WithWebhookSecret(secret string) Option {
	return func(o *Opts) { o.WebhookSecret = secret }
}

// WithTriggerPhrase overrides the chat trigger phrase.
func WithTriggerPhrase(phrase string) Option {
	return func(o *Opts) { o.TriggerPhrase = phrase }
}

// WithRecipients sets the daily passage recipients.
func WithRecipients(recipients []string) Option {
	return func(o *Opts) { o.Recipients = recipients }
}

// WithDailySchedule sets the daily passage send time.
func WithDailySchedule(hour, minute int) Option {
	return func(o *Opts) {
		o.ScheduleHour = hour
		o.ScheduleMinute = minute
	}
}

// WithTimezone sets the scheduler timezone.
func WithTimezone(tz string) Option {
	return func(o *Opts) { o.Timezone = tz }
}

// WithRateLimit bounds per-sender webhook throughput.
func WithRateLimit(maxRequests int, window time.Duration) Option {
	return func(o *Opts) {
		o.RateLimitMax = maxRequests
		o.RateLimitWindow = window
	}
}

// WithSearchCredentials configures the Google custom search backend.
func WithSearchCredentials(apiKey, engineID string) Option {
	return func(o *Opts) {
		o.SearchAPIKey = apiKey
		o.SearchEngineID = engineID
	}
}

// WithTopicMode sets the passage topic selection mode.
func WithTopicMode(mode string) Option {
	return func(o *Opts) { o.TopicMode = mode }
}

// WithMaxConcurrentSends bounds parallel passage sends.
func WithMaxConcurrentSends(n int) Option {
	return func(o *Opts) { o.MaxConcurrent = n }
}

// WithSummarizeLimit caps how much history one summary may pull.
func WithSummarizeLimit(n int) Option {
	return func(o *Opts) { o.SummarizeMax = n }
}

// WithMessagingBackend selects the outbound messaging backend.
func WithMessagingBackend(backend string) Option {
	return func(o *Opts) { o.Backend = backend }
}

// WithRateLimiter provides the limiter instance for the cleanup loop.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(o *Opts) { o.Limiter = l }
}

// WithSearchClient provides the web search client for status reporting.
func WithSearchClient(c *websearch.Client) Option {
	return func(o *Opts) { o.Search = c }
}

// defaultOpts returns the configuration applied before options.
func defaultOpts() Opts {
	return Opts{
		Addr:            DefaultAddr,
		ScheduleHour:    DefaultScheduleHour,
		ScheduleMinute:  DefaultScheduleMinute,
		RateLimitMax:    ratelimit.DefaultMaxRequests,
		RateLimitWindow: ratelimit.DefaultWindow,
		TopicMode:       passage.TopicModeFree,
		MaxConcurrent:   passage.DefaultMaxConcurrentSends,
		SummarizeMax:    models.MaxSummarizeMessages,
		Backend:         BackendGowa,
	}
}

// Agent answers queries and reports provider configuration.
// *genai.Orchestrator satisfies it.
type Agent interface {
	Answer(ctx context.Context, q *genai.QueryInput) (*models.Completion, error)
	Primary() string
	ProviderNames() []string
	Fallback() bool
}

// Server holds the wired modules behind the HTTP handlers.
type Server struct {
	gateway     gowa.Gateway
	dispatcher  *messaging.Dispatcher
	orch        Agent
	processor   *flow.Processor
	classifier  *trigger.Classifier
	generator   *passage.Generator
	summarizer  *summarizer.Summarizer
	sched       *scheduler.Scheduler
	st          store.Store
	limiter     *ratelimit.Limiter
	search      *websearch.Client
	secret      string
	addr        string
	stopCleanup chan struct{}
}

// NewServer creates a Server over already wired modules. Most callers want
// Run, which builds the modules from options first.
func NewServer(gateway gowa.Gateway, dispatcher *messaging.Dispatcher, orch Agent, processor *flow.Processor, classifier *trigger.Classifier, generator *passage.Generator, summ *summarizer.Summarizer, sched *scheduler.Scheduler, st store.Store, opts ...Option) *Server {
	cfg := defaultOpts()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		gateway:    gateway,
		dispatcher: dispatcher,
		orch:       orch,
		processor:  processor,
		classifier: classifier,
		generator:  generator,
		summarizer: summ,
		sched:      sched,
		st:         st,
		limiter:    cfg.Limiter,
		search:     cfg.Search,
		secret:     cfg.WebhookSecret,
		addr:       cfg.Addr,
	}
}

// Run wires the modules from the provided options and serves the API until
// the process receives an interrupt or the listener fails.
func Run(gowaOpts []gowa.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := defaultOpts()
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	search := websearch.NewClient(
		websearch.WithAPIKey(cfg.SearchAPIKey),
		websearch.WithEngineID(cfg.SearchEngineID),
	)
	if search.Configured() {
		genaiOpts = append(genaiOpts, genai.WithSearch(search))
	}

	orch, err := genai.NewOrchestrator(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	sched, err := scheduler.NewScheduler(scheduler.WithTimezone(cfg.Timezone))
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	gateway := gowa.NewClient(gowaOpts...)

	var svc messaging.Service
	switch cfg.Backend {
	case BackendTwilio:
		twClient, twErr := twiliowhatsapp.NewClient()
		if twErr != nil {
			sched.Stop()
			return fmt.Errorf("failed to initialize Twilio client: %w", twErr)
		}
		svc = messaging.NewTwilioService(twClient)
	default:
		svc = messaging.NewGowaService(gateway)
	}

	st, err := store.NewStore(storeOpts...)
	if err != nil {
		sched.Stop()
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	own := dedup.NewTracker(dedup.DefaultTTL)
	seen := dedup.NewTracker(dedup.DefaultTTL)
	paths := dedup.NewPathCache(dedup.DefaultTTL)
	limiter := ratelimit.NewLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)

	dispatcher := messaging.NewDispatcher(svc, own, st)

	summ := summarizer.NewSummarizer(gateway, orch, summarizer.WithMaxMessages(cfg.SummarizeMax))

	generator := passage.NewGenerator(orch, search, dispatcher, st,
		passage.WithRecipients(cfg.Recipients),
		passage.WithTopicMode(cfg.TopicMode),
		passage.WithMaxConcurrentSends(cfg.MaxConcurrent),
		passage.WithLocation(sched.Location()),
	)
	if err := sched.AddDailyJob(cfg.ScheduleHour, cfg.ScheduleMinute, func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultJobTimeout)
		defer cancel()
		if sendErr := generator.SendDaily(ctx); sendErr != nil {
			slog.Error("Server daily passage job failed", "error", sendErr)
		}
	}); err != nil {
		sched.Stop()
		if cerr := st.Close(); cerr != nil {
			slog.Error("Server failed to close store", "error", cerr)
		}
		return fmt.Errorf("failed to schedule daily passage job: %w", err)
	}

	classifier := trigger.NewClassifier(cfg.TriggerPhrase, own)
	media := flow.NewMediaFetcher(gateway, paths)
	processor := flow.NewProcessor(classifier, own, seen, media, orch, dispatcher,
		flow.WithRateLimiter(limiter),
		flow.WithSummarizer(summ),
	)

	server := NewServer(gateway, dispatcher, orch, processor, classifier, generator, summ, sched, st,
		WithAddr(cfg.Addr),
		WithWebhookSecret(cfg.WebhookSecret),
		WithRateLimiter(limiter),
		WithSearchClient(search),
	)
	server.startCleanupLoop()

	slog.Info("Server starting",
		"addr", cfg.Addr,
		"backend", cfg.Backend,
		"primary_provider", orch.Primary(),
		"fallback", orch.Fallback(),
		"trigger_phrase", classifier.Phrase(),
		"recipients", len(cfg.Recipients),
		"search_configured", search.Configured(),
		"signature_verification", server.secretConfigured(),
	)
	return server.serve()
}

// serve runs the HTTP listener until an interrupt or a listener failure,
// then shuts down gracefully.
func (s *Server) serve() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("server listener failed: %w", err)
	case <-runCtx.Done():
		slog.Info("Server shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("Server shutdown failed", "error", err)
	}
	s.Close()
	return nil
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/query", s.queryHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/mandarin/generate", s.generatePassageHandler)
	mux.HandleFunc("/mandarin/trigger-daily", s.triggerDailyHandler)
	mux.HandleFunc("/summarize", s.summarizeHandler)
	return mux
}

// startCleanupLoop evicts idle senders from the rate limiter periodically.
func (s *Server) startCleanupLoop() {
	if s.limiter == nil {
		return
	}
	s.stopCleanup = make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.limiter.Window())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := s.limiter.Cleanup(); removed > 0 {
					slog.Debug("Server rate limiter cleanup", "senders_removed", removed)
				}
			case <-s.stopCleanup:
				return
			}
		}
	}()
}

// Close stops background work and releases module resources: the cleanup
// loop, the scheduler, in-flight webhook processing, and the store.
func (s *Server) Close() {
	if s.stopCleanup != nil {
		close(s.stopCleanup)
		s.stopCleanup = nil
	}
	if s.sched != nil {
		s.sched.Stop()
	}
	if s.processor != nil {
		s.processor.Wait()
	}
	if s.st != nil {
		if err := s.st.Close(); err != nil {
			slog.Error("Server failed to close store", "error", err)
		}
	}
}

// secretConfigured reports whether webhook signature verification is active.
func (s *Server) secretConfigured() bool {
	return s.secret != "" && s.secret != placeholderSecret
}
