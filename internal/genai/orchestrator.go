package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/Akasha/internal/models"
	"github.com/BTreeMap/Akasha/internal/websearch"
)

// DefaultSystemPrompt is the assistant persona used for chat replies.
const DefaultSystemPrompt = `You are Akasha, a helpful and friendly AI assistant available via WhatsApp.

Your capabilities:
- Answer questions on a wide range of topics
- Search the web for current information when needed
- Be concise since this is WhatsApp - keep responses under 500 words unless more detail is requested

Guidelines:
1. If asked about current events, recent news, or facts you're uncertain about, use the web_search tool
2. Be conversational and friendly
3. If you search the web, summarize the findings naturally - don't just list search results
4. Cite sources briefly when using web search (e.g., "According to [source]...")
5. If you can't help with something, say so politely
6. Respond in the same language as the user's query`

const (
	// webSearchToolName is the function name offered to the model.
	webSearchToolName = "web_search"

	// emptyQueryPrompt stands in for a trigger with nothing after it.
	emptyQueryPrompt = "Hello!"

	// imageOnlyPrompt stands in for an image sent with no caption.
	imageOnlyPrompt = "What is in this image?"

	// continuationTemplate frames a reply to an earlier bot message.
	continuationTemplate = "The user is replying to this message:\n---\n%s\n---\n\nUser's question/comment: %s"
)

// Searcher provides web search for the web_search tool.
type Searcher interface {
	Search(ctx context.Context, query string, numResults int) []websearch.Result
	Configured() bool
}

// QueryInput is one user query from a webhook trigger or the HTTP API.
type QueryInput struct {
	Query         string // user text, may be empty
	QuotedContext string // quoted message when this is a reply
	ImageData     []byte // optional attached image
	ImageMIME     string // MIME type of ImageData
}

// Opts holds configuration options for the orchestrator.
type Opts struct {
	Providers []*Provider // providers in priority order
	Fallback  bool        // try the next provider when one is exhausted
	System    string      // system prompt for chat replies
	Search    Searcher    // optional web search backing the web_search tool
}

// Option defines a configuration option for the orchestrator.
type Option func(*Opts)

// WithProviders sets the provider chain in priority order.
func WithProviders(providers ...*Provider) Option {
	return func(o *Opts) {
		o.Providers = providers
	}
}

// WithFallback enables or disables cross-provider fallback.
func WithFallback(enabled bool) Option {
	return func(o *Opts) {
		o.Fallback = enabled
	}
}

// WithSystemPrompt overrides the chat persona.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) {
		o.System = prompt
	}
}

// WithSearch provides the web search client backing the web_search tool.
func WithSearch(s Searcher) Option {
	return func(o *Opts) {
		o.Search = s
	}
}

// Orchestrator routes completion requests through the provider chain with
// credential rotation inside each provider and optional fallback across them.
type Orchestrator struct {
	providers []*Provider
	fallback  bool
	system    string
	search    Searcher
}

// NewOrchestrator creates an orchestrator, applying any provided options.
// At least one configured provider is required.
func NewOrchestrator(opts ...Option) (*Orchestrator, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	providers := make([]*Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p != nil && p.Configured() {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		return nil, models.ErrNoProviders
	}

	system := cfg.System
	if system == "" {
		system = DefaultSystemPrompt
	}

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	slog.Debug("Orchestrator.NewOrchestrator: options set", "providers", names, "fallback", cfg.Fallback, "search_enabled", cfg.Search != nil && cfg.Search.Configured())

	return &Orchestrator{
		providers: providers,
		fallback:  cfg.Fallback,
		system:    system,
		search:    cfg.Search,
	}, nil
}

// Primary returns the name of the first provider in the chain.
func (o *Orchestrator) Primary() string {
	return o.providers[0].Name()
}

// ProviderNames returns the configured provider chain in priority order.
func (o *Orchestrator) ProviderNames() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

// Fallback reports whether cross-provider fallback is enabled.
func (o *Orchestrator) Fallback() bool {
	return o.fallback
}

// Complete runs the request through the provider chain. On success the
// completion names the provider and credential that served it. When every
// credential of every eligible provider fails with a classified error, the
// result is a *models.ProviderExhaustedError carrying the ordered attempts.
// Unknown errors abort the chain immediately.
func (o *Orchestrator) Complete(ctx context.Context, req *Request) (*models.Completion, error) {
	var attempts []models.Attempt
	for i, provider := range o.providers {
		if i > 0 {
			slog.Warn("Orchestrator.Complete: falling back to next provider", "provider", provider.Name())
		}

		completion, providerAttempts, err := provider.Generate(ctx, req)
		attempts = append(attempts, providerAttempts...)
		if err != nil {
			return nil, fmt.Errorf("completion failed: %w", err)
		}
		if completion != nil {
			slog.Info("Orchestrator.Complete: completion served",
				"provider", completion.Provider, "credential_index", completion.CredentialIndex,
				"latency", completion.Latency, "sources", len(completion.Sources))
			return completion, nil
		}

		if !o.fallback {
			break
		}
	}
	return nil, &models.ProviderExhaustedError{Attempts: attempts}
}

// Answer handles one user query: it applies the continuation template and the
// empty-query defaults, offers the web_search tool when search is configured,
// and runs the result through the provider chain.
func (o *Orchestrator) Answer(ctx context.Context, q *QueryInput) (*models.Completion, error) {
	req := &Request{
		System:    o.system,
		Prompt:    buildPrompt(q),
		Image:     q.ImageData,
		ImageMIME: q.ImageMIME,
	}
	if o.search != nil && o.search.Configured() {
		req.Tools = []openai.ChatCompletionToolParam{webSearchToolParam()}
		req.RunTool = o.runTool
	}
	return o.Complete(ctx, req)
}

// buildPrompt turns a query input into the user prompt: the continuation
// template frames replies, an empty text query becomes a greeting, and an
// image with no caption asks what the image shows.
func buildPrompt(q *QueryInput) string {
	prompt := q.Query
	if prompt == "" {
		if len(q.ImageData) > 0 {
			prompt = imageOnlyPrompt
		} else {
			prompt = emptyQueryPrompt
		}
	}
	if q.QuotedContext != "" {
		prompt = fmt.Sprintf(continuationTemplate, q.QuotedContext, prompt)
	}
	return prompt
}

// GenerateText runs a plain text completion (no tools, no image) through the
// provider chain, for callers like the passage generator and summarizer.
func (o *Orchestrator) GenerateText(ctx context.Context, system, prompt string, temperature float64) (*models.Completion, error) {
	return o.Complete(ctx, &Request{
		System:      system,
		Prompt:      prompt,
		Temperature: temperature,
	})
}

// runTool executes a tool call requested by the model.
func (o *Orchestrator) runTool(ctx context.Context, name string, args json.RawMessage) (string, []string, error) {
	if name != webSearchToolName {
		return "", nil, fmt.Errorf("unknown tool: %s", name)
	}

	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", nil, fmt.Errorf("failed to decode tool arguments: %w", err)
	}

	slog.Info("Orchestrator.runTool: web search requested", "query", params.Query)
	results := o.search.Search(ctx, params.Query, websearch.DefaultResults)
	sources := make([]string, 0, len(results))
	for _, r := range results {
		sources = append(sources, r.Link)
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode tool results: %w", err)
	}
	return string(payload), sources, nil
}

// webSearchToolParam is the web_search function definition offered to the
// model.
func webSearchToolParam() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        webSearchToolName,
			Description: openai.String("Search the web for current information. Use this when you need up-to-date information, recent news, or facts you're not certain about."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The search query to look up",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}
