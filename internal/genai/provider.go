package genai

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Akasha/internal/models"
)

// Provider is one LLM backend with its credential pool. Chat services are
// cached per credential so rotation does not rebuild HTTP clients.
type Provider struct {
	name    string
	model   string
	rotator *Rotator
	newChat func(apiKey string) chatService

	mu    sync.Mutex
	chats map[int]chatService
}

// NewGeminiProvider creates a Gemini provider over its OpenAI-compatible
// endpoint with the given API keys.
func NewGeminiProvider(apiKeys []string, model string) *Provider {
	if model == "" {
		model = DefaultGeminiModel
	}
	return newProvider(ProviderGemini, model, GeminiBaseURL, apiKeys)
}

// NewOpenAIProvider creates an OpenAI provider with the given API keys.
func NewOpenAIProvider(apiKeys []string, model string) *Provider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return newProvider(ProviderOpenAI, model, "", apiKeys)
}

func newProvider(name, model, baseURL string, apiKeys []string) *Provider {
	return &Provider{
		name:    name,
		model:   model,
		rotator: NewRotator(apiKeys),
		newChat: func(apiKey string) chatService {
			return newChatService(apiKey, baseURL)
		},
		chats: make(map[int]chatService),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Configured reports whether the provider has at least one credential.
func (p *Provider) Configured() bool {
	return p.rotator.Len() > 0
}

// Generate runs the request against this provider, walking the credential
// pool at most one full cycle. A success returns immediately and leaves the
// rotation cursor in place; classified failures advance it and continue.
// Unknown failures stop the walk and are returned raw.
//
// Return shape: on success the completion is non-nil; on a fully classified
// exhaustion both completion and error are nil and the attempts tell the
// story; an unknown failure returns the underlying error.
func (p *Provider) Generate(ctx context.Context, req *Request) (*models.Completion, []models.Attempt, error) {
	var attempts []models.Attempt
	for i := 0; i < p.rotator.Len(); i++ {
		apiKey, idx := p.rotator.Current()

		start := time.Now()
		text, sources, err := converse(ctx, p.chatFor(idx, apiKey), p.model, req)
		if err == nil {
			return &models.Completion{
				Text:            text,
				Provider:        p.name,
				CredentialIndex: idx,
				Latency:         time.Since(start),
				Sources:         sources,
			}, attempts, nil
		}

		kind := Classify(err)
		attempts = append(attempts, models.Attempt{
			Provider:        p.name,
			CredentialIndex: idx,
			Kind:            kind,
		})
		if !kind.Classified() {
			slog.Error("Provider.Generate: unrecoverable error", "provider", p.name, "credential_index", idx, "error", err)
			return nil, attempts, err
		}

		slog.Warn("Provider.Generate: credential failed, rotating",
			"provider", p.name, "credential_index", idx, "kind", kind, "error", err)
		p.rotator.Advance()
	}
	return nil, attempts, nil
}

// chatFor returns the cached chat service for a credential index, building it
// on first use.
func (p *Provider) chatFor(idx int, apiKey string) chatService {
	p.mu.Lock()
	defer p.mu.Unlock()
	if chat, ok := p.chats[idx]; ok {
		return chat
	}
	chat := p.newChat(apiKey)
	p.chats[idx] = chat
	return chat
}
