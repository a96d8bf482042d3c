// Package genai provides LLM completions with credential rotation and
// provider fallback, using the OpenAI chat completion API surface for every
// provider (Gemini is reached through its OpenAI-compatible endpoint).
package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// Constants for provider configuration
const (
	// ProviderGemini identifies the Gemini provider.
	ProviderGemini = "gemini"
	// ProviderOpenAI identifies the OpenAI provider.
	ProviderOpenAI = "openai"

	// GeminiBaseURL is Gemini's OpenAI-compatible endpoint.
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

	// DefaultGeminiModel is used when no Gemini model is configured.
	DefaultGeminiModel = "gemini-2.0-flash"
	// DefaultOpenAIModel is used when no OpenAI model is configured.
	DefaultOpenAIModel = "gpt-4o-mini"

	// TextTimeout bounds each text-only completion call.
	TextTimeout = 30 * time.Second
	// ImageTimeout bounds each completion call that carries an image.
	ImageTimeout = 60 * time.Second

	// maxToolRounds is how many completion rounds may request tool calls
	// before the conversation is forced to a final answer without tools.
	maxToolRounds = 3
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// newChatService builds the real chat completion service for an API key and
// an optional OpenAI-compatible base URL.
func newChatService(apiKey, baseURL string) chatService {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	cli := openai.NewClient(clientOpts...)
	svc := cli.Chat.Completions
	return &svc
}

// ToolFunc executes one named tool call and returns the textual result handed
// back to the model plus any source URLs the tool consulted.
type ToolFunc func(ctx context.Context, name string, args json.RawMessage) (content string, sources []string, err error)

// Request is one completion task handed to a provider chain.
type Request struct {
	System      string  // optional system instruction
	Prompt      string  // user prompt
	Image       []byte  // optional image bytes for multimodal requests
	ImageMIME   string  // MIME type of Image
	Temperature float64 // 0 means API default
	Tools       []openai.ChatCompletionToolParam
	RunTool     ToolFunc
}

// timeout returns the per-call budget for this request.
func (r *Request) timeout() time.Duration {
	if len(r.Image) > 0 {
		return ImageTimeout
	}
	return TextTimeout
}

// messages builds the initial conversation for this request.
func (r *Request) messages() []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if r.System != "" {
		messages = append(messages, openai.SystemMessage(r.System))
	}
	if len(r.Image) > 0 && r.ImageMIME != "" {
		messages = append(messages, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURI(r.Image, r.ImageMIME),
			}),
			openai.TextContentPart(r.Prompt),
		}))
	} else {
		messages = append(messages, openai.UserMessage(r.Prompt))
	}
	return messages
}

// converse runs the completion conversation against one chat service,
// executing tool calls for up to maxToolRounds rounds before forcing a final
// answer without tools. Every API call is bounded by the request's timeout.
func converse(ctx context.Context, chat chatService, model string, req *Request) (string, []string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: req.messages(),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	var sources []string
	if len(req.Tools) > 0 && req.RunTool != nil {
		params.Tools = req.Tools
		for round := 0; round < maxToolRounds; round++ {
			msg, err := callOnce(ctx, chat, params, req.timeout())
			if err != nil {
				return "", nil, err
			}
			if len(msg.ToolCalls) == 0 {
				return msg.Content, sources, nil
			}

			params.Messages = append(params.Messages, assistantWithToolCalls(msg))
			for _, call := range msg.ToolCalls {
				content, callSources, err := req.RunTool(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
				if err != nil {
					slog.Warn("genai.converse: tool call failed", "tool", call.Function.Name, "error", err)
					content = fmt.Sprintf(`{"error": %q}`, err.Error())
				}
				sources = append(sources, callSources...)
				params.Messages = append(params.Messages, openai.ToolMessage(content, call.ID))
			}
		}
		// Tool budget spent: force a final answer.
		params.Tools = nil
	}

	msg, err := callOnce(ctx, chat, params, req.timeout())
	if err != nil {
		return "", nil, err
	}
	return msg.Content, sources, nil
}

// callOnce performs a single bounded chat completion call.
func callOnce(ctx context.Context, chat chatService, params openai.ChatCompletionNewParams, timeout time.Duration) (openai.ChatCompletionMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	completion, err := chat.New(callCtx, params)
	if err != nil {
		return openai.ChatCompletionMessage{}, err
	}
	if len(completion.Choices) == 0 {
		return openai.ChatCompletionMessage{}, fmt.Errorf("no choices returned")
	}
	return completion.Choices[0].Message, nil
}

// assistantWithToolCalls repacks a model answer carrying tool calls into the
// assistant message param the API needs to see before the tool results.
func assistantWithToolCalls(msg openai.ChatCompletionMessage) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, call := range msg.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	assistant := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(msg.Content),
		},
		ToolCalls: toolCalls,
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// dataURI encodes image bytes as a base64 data URI content part URL.
func dataURI(data []byte, mime string) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
