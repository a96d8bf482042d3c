package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/Akasha/internal/models"
)

// mockChat implements chatService, replaying scripted responses in order and
// recording the params of every call.
type mockChat struct {
	responses []mockResponse
	calls     []openai.ChatCompletionNewParams
}

type mockResponse struct {
	msg openai.ChatCompletionMessage
	err error
}

func (m *mockChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.calls = append(m.calls, params)
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mockChat: no scripted response for call %d", len(m.calls))
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: next.msg}},
	}, nil
}

func textResponse(text string) mockResponse {
	return mockResponse{msg: openai.ChatCompletionMessage{Content: text}}
}

func toolCallResponse(id, name, args string) mockResponse {
	return mockResponse{msg: openai.ChatCompletionMessage{
		ToolCalls: []openai.ChatCompletionMessageToolCall{{
			ID: id,
			Function: openai.ChatCompletionMessageToolCallFunction{
				Name:      name,
				Arguments: args,
			},
		}},
	}}
}

func errResponse(err error) mockResponse {
	return mockResponse{err: err}
}

// testProvider builds a provider whose chat services come from the given
// per-key mocks.
func testProvider(t *testing.T, name string, chats map[string]*mockChat) *Provider {
	t.Helper()
	keys := make([]string, 0, len(chats))
	for key := range chats {
		keys = append(keys, key)
	}
	// Deterministic key order for index assertions.
	if len(chats) == 2 {
		keys = []string{"key-0", "key-1"}
	}
	p := newProvider(name, "test-model", "", keys)
	p.newChat = func(apiKey string) chatService {
		chat, ok := chats[apiKey]
		if !ok {
			t.Fatalf("no mock chat for key %s", apiKey)
		}
		return chat
	}
	return p
}

func TestProviderGenerateStickySuccess(t *testing.T) {
	chat := &mockChat{responses: []mockResponse{textResponse("first"), textResponse("second")}}
	p := testProvider(t, ProviderGemini, map[string]*mockChat{"key-0": chat, "key-1": {}})

	completion, attempts, err := p.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if completion.Text != "first" || completion.CredentialIndex != 0 {
		t.Errorf("unexpected completion: %+v", completion)
	}
	if len(attempts) != 0 {
		t.Errorf("expected no failed attempts, got %d", len(attempts))
	}

	// A healthy credential keeps serving.
	completion, _, err = p.Generate(context.Background(), &Request{Prompt: "again"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if completion.CredentialIndex != 0 {
		t.Errorf("expected sticky credential 0, got %d", completion.CredentialIndex)
	}
}

func TestProviderGenerateRotatesOnClassifiedFailure(t *testing.T) {
	failing := &mockChat{responses: []mockResponse{errResponse(errors.New("429 resource has been exhausted"))}}
	healthy := &mockChat{responses: []mockResponse{textResponse("served by backup"), textResponse("still backup")}}
	p := testProvider(t, ProviderGemini, map[string]*mockChat{"key-0": failing, "key-1": healthy})

	completion, attempts, err := p.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if completion.Text != "served by backup" || completion.CredentialIndex != 1 {
		t.Errorf("unexpected completion: %+v", completion)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 failed attempt, got %d", len(attempts))
	}
	if attempts[0].Kind != models.ErrorKindRateLimited || attempts[0].CredentialIndex != 0 {
		t.Errorf("unexpected attempt: %+v", attempts[0])
	}

	// Rotation is sticky: the next call starts at the credential that worked.
	completion, _, err = p.Generate(context.Background(), &Request{Prompt: "again"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if completion.CredentialIndex != 1 {
		t.Errorf("expected sticky credential 1, got %d", completion.CredentialIndex)
	}
}

func TestProviderGenerateExhaustsAllCredentials(t *testing.T) {
	p := testProvider(t, ProviderGemini, map[string]*mockChat{
		"key-0": {responses: []mockResponse{errResponse(errors.New("quota exceeded"))}},
		"key-1": {responses: []mockResponse{errResponse(errors.New("503 service unavailable"))}},
	})

	completion, attempts, err := p.Generate(context.Background(), &Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("expected nil error on classified exhaustion, got %v", err)
	}
	if completion != nil {
		t.Fatalf("expected no completion, got %+v", completion)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected one attempt per credential, got %d", len(attempts))
	}
	if attempts[0].Kind != models.ErrorKindRateLimited || attempts[1].Kind != models.ErrorKindServerUnavailable {
		t.Errorf("unexpected attempt kinds: %+v", attempts)
	}

	// A full wrap lands the cursor back where it started.
	if _, idx := p.rotator.Current(); idx != 0 {
		t.Errorf("expected cursor back at 0 after full wrap, got %d", idx)
	}
}

func TestProviderGenerateUnknownErrorAborts(t *testing.T) {
	p := testProvider(t, ProviderOpenAI, map[string]*mockChat{
		"key-0": {responses: []mockResponse{errResponse(errors.New("malformed tool payload"))}},
		"key-1": {},
	})

	completion, attempts, err := p.Generate(context.Background(), &Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected unknown error to surface")
	}
	if completion != nil {
		t.Errorf("expected no completion, got %+v", completion)
	}
	if len(attempts) != 1 || attempts[0].Kind != models.ErrorKindUnknown {
		t.Errorf("unexpected attempts: %+v", attempts)
	}
	// No rotation on unknown errors.
	if _, idx := p.rotator.Current(); idx != 0 {
		t.Errorf("expected cursor unchanged, got %d", idx)
	}
}

func TestConverseToolLoop(t *testing.T) {
	chat := &mockChat{responses: []mockResponse{
		toolCallResponse("call_1", "web_search", `{"query":"golang"}`),
		textResponse("found it"),
	}}

	var gotName, gotArgs string
	req := &Request{
		Prompt: "search for golang",
		Tools:  []openai.ChatCompletionToolParam{webSearchToolParam()},
		RunTool: func(ctx context.Context, name string, args json.RawMessage) (string, []string, error) {
			gotName = name
			gotArgs = string(args)
			return `[{"title":"Go","link":"https://go.dev"}]`, []string{"https://go.dev"}, nil
		},
	}

	text, sources, err := converse(context.Background(), chat, "test-model", req)
	if err != nil {
		t.Fatalf("converse failed: %v", err)
	}
	if text != "found it" {
		t.Errorf("expected final text, got %q", text)
	}
	if gotName != "web_search" || gotArgs != `{"query":"golang"}` {
		t.Errorf("unexpected tool invocation: %s %s", gotName, gotArgs)
	}
	if len(sources) != 1 || sources[0] != "https://go.dev" {
		t.Errorf("unexpected sources: %v", sources)
	}
	if len(chat.calls) != 2 {
		t.Fatalf("expected 2 API calls, got %d", len(chat.calls))
	}
	// Second call sees system-free conversation: user, assistant w/ tool
	// calls, tool result.
	if len(chat.calls[1].Messages) != 3 {
		t.Errorf("expected 3 messages on follow-up call, got %d", len(chat.calls[1].Messages))
	}
}

func TestConverseToolBudgetForcesFinalAnswer(t *testing.T) {
	chat := &mockChat{responses: []mockResponse{
		toolCallResponse("call_1", "web_search", `{"query":"a"}`),
		toolCallResponse("call_2", "web_search", `{"query":"b"}`),
		toolCallResponse("call_3", "web_search", `{"query":"c"}`),
		textResponse("final answer"),
	}}

	req := &Request{
		Prompt: "keep searching",
		Tools:  []openai.ChatCompletionToolParam{webSearchToolParam()},
		RunTool: func(ctx context.Context, name string, args json.RawMessage) (string, []string, error) {
			return `[]`, nil, nil
		},
	}

	text, _, err := converse(context.Background(), chat, "test-model", req)
	if err != nil {
		t.Fatalf("converse failed: %v", err)
	}
	if text != "final answer" {
		t.Errorf("expected forced final answer, got %q", text)
	}
	if len(chat.calls) != 4 {
		t.Fatalf("expected 4 API calls (3 tool rounds + final), got %d", len(chat.calls))
	}
	if len(chat.calls[3].Tools) != 0 {
		t.Error("expected final call without tools")
	}
}

func TestConverseToolErrorFeedsModel(t *testing.T) {
	chat := &mockChat{responses: []mockResponse{
		toolCallResponse("call_1", "web_search", `{"query":"x"}`),
		textResponse("answered without search"),
	}}

	req := &Request{
		Prompt: "search",
		Tools:  []openai.ChatCompletionToolParam{webSearchToolParam()},
		RunTool: func(ctx context.Context, name string, args json.RawMessage) (string, []string, error) {
			return "", nil, errors.New("search backend down")
		},
	}

	text, _, err := converse(context.Background(), chat, "test-model", req)
	if err != nil {
		t.Fatalf("converse failed: %v", err)
	}
	if text != "answered without search" {
		t.Errorf("expected conversation to continue past tool error, got %q", text)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"http 429", errors.New("429 too many requests"), models.ErrorKindRateLimited},
		{"quota", errors.New("Quota exceeded for quota metric"), models.ErrorKindRateLimited},
		{"resource exhausted", errors.New("RESOURCE_EXHAUSTED: all api keys tried"), models.ErrorKindRateLimited},
		{"invalid key", errors.New("API_KEY_INVALID: check credentials"), models.ErrorKindAuthFailed},
		{"expired key", errors.New("api key expired"), models.ErrorKindAuthFailed},
		{"invalid argument", errors.New("INVALID_ARGUMENT: bad request"), models.ErrorKindMalformedRequest},
		{"http 503", errors.New("503 service overloaded"), models.ErrorKindServerUnavailable},
		{"unavailable", errors.New("model is temporarily unavailable"), models.ErrorKindServerUnavailable},
		{"deadline", context.DeadlineExceeded, models.ErrorKindTimeout},
		{"wrapped deadline", fmt.Errorf("call failed: %w", context.DeadlineExceeded), models.ErrorKindTimeout},
		{"timed out", errors.New("request timed out"), models.ErrorKindTimeout},
		{"unknown", errors.New("unexpected response shape"), models.ErrorKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestRotator(t *testing.T) {
	r := NewRotator([]string{"a", "", "b", "c"})
	if r.Len() != 3 {
		t.Fatalf("expected empty credentials dropped, got len %d", r.Len())
	}

	cred, idx := r.Current()
	if cred != "a" || idx != 0 {
		t.Errorf("unexpected start position: %s %d", cred, idx)
	}

	r.Advance()
	r.Advance()
	cred, idx = r.Current()
	if cred != "c" || idx != 2 {
		t.Errorf("unexpected position after two advances: %s %d", cred, idx)
	}

	r.Advance()
	cred, idx = r.Current()
	if cred != "a" || idx != 0 {
		t.Errorf("expected wrap to start: %s %d", cred, idx)
	}
}

func TestRotatorEmpty(t *testing.T) {
	r := NewRotator(nil)
	if r.Len() != 0 {
		t.Fatalf("expected empty rotator, got len %d", r.Len())
	}
	cred, idx := r.Current()
	if cred != "" || idx != 0 {
		t.Errorf("unexpected current on empty rotator: %q %d", cred, idx)
	}
	r.Advance() // must not panic
}
