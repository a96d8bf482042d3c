// Package models defines the core data structures for Akasha.
//
// It includes the GoWA webhook payload types, trigger decisions, LLM
// completion results, and persisted rows, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JID constants for WhatsApp addressing.
const (
	// UserJIDSuffix is the JID domain for individual WhatsApp users.
	UserJIDSuffix = "@s.whatsapp.net"
	// groupJIDSeparator joins sender and group in combined webhook JIDs
	// ("<user> in <group>").
	groupJIDSeparator = " in "
)

// Validation constants for input validation
const (
	// MaxQueryLength defines the maximum allowed length for direct query content
	MaxQueryLength = 4096
	// MaxTopicLength defines the maximum allowed length for passage topics
	MaxTopicLength = 200
	// MaxSummarizeMessages defines the upper bound on history pulled for one summary
	MaxSummarizeMessages = 500
)

// Error variables for better error handling and testability
var (
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrEmptyQuery          = errors.New("query cannot be empty")
	ErrQueryTooLong        = errors.New("query exceeds maximum length")
	ErrTopicTooLong        = errors.New("topic exceeds maximum length")
	ErrEmptyChatJID        = errors.New("chat_jid cannot be empty")
	ErrInvalidMessageCount = errors.New("message_count must be positive")
	ErrEmptyRecipient      = errors.New("recipient cannot be empty")
	ErrEmptyMessage        = errors.New("message cannot be empty")
	ErrNoCredentials       = errors.New("no credentials configured for provider")
	ErrNoProviders         = errors.New("no providers configured")
)

// EventKind classifies a webhook payload by its content.
type EventKind string

const (
	// EventKindText is a plain text message.
	EventKindText EventKind = "text"
	// EventKindImage is a message carrying an image attachment.
	EventKindImage EventKind = "image"
	// EventKindVideo is a message carrying a video attachment.
	EventKindVideo EventKind = "video"
	// EventKindAudio is a message carrying an audio attachment.
	EventKindAudio EventKind = "audio"
	// EventKindDocument is a message carrying a document attachment.
	EventKindDocument EventKind = "document"
	// EventKindReaction is an emoji reaction to an earlier message.
	EventKindReaction EventKind = "reaction"
	// EventKindUnknown is any payload shape not covered above.
	EventKindUnknown EventKind = "unknown"
)

// WebhookMessage is the nested message block of a GoWA webhook payload.
type WebhookMessage struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	RepliedID     string `json:"replied_id,omitempty"`
	QuotedMessage string `json:"quoted_message,omitempty"`
}

// MediaAttachment describes the image, video, audio or document block of a
// webhook payload.
type MediaAttachment struct {
	Caption   string `json:"caption,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	MediaPath string `json:"media_path,omitempty"`
}

// WebhookReaction is the reaction block of a GoWA webhook payload.
type WebhookReaction struct {
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

// WebhookEvent mirrors the GoWA webhook payload for incoming messages.
//
// GoWA places the message identifier in different spots depending on the
// payload shape: media messages carry it at the top level, text messages
// nest it under message.id. MessageID encapsulates that quirk so handlers
// never reach into raw maps.
type WebhookEvent struct {
	From          string           `json:"from"`
	Pushname      string           `json:"pushname,omitempty"`
	ChatID        string           `json:"chat_id,omitempty"`
	SenderID      string           `json:"sender_id,omitempty"`
	Timestamp     string           `json:"timestamp,omitempty"`
	ID            string           `json:"id,omitempty"`
	RepliedID     string           `json:"replied_id,omitempty"`
	QuotedMessage string           `json:"quoted_message,omitempty"`
	FilePath      string           `json:"file_path,omitempty"`
	Message       *WebhookMessage  `json:"message,omitempty"`
	Image         *MediaAttachment `json:"image,omitempty"`
	Video         *MediaAttachment `json:"video,omitempty"`
	Audio         *MediaAttachment `json:"audio,omitempty"`
	Document      *MediaAttachment `json:"document,omitempty"`
	Reaction      *WebhookReaction `json:"reaction,omitempty"`
}

// Kind derives the event classification from the payload structure.
func (e *WebhookEvent) Kind() EventKind {
	switch {
	case e.Reaction != nil:
		return EventKindReaction
	case e.Image != nil:
		return EventKindImage
	case e.Video != nil:
		return EventKindVideo
	case e.Audio != nil:
		return EventKindAudio
	case e.Document != nil:
		return EventKindDocument
	case e.Message != nil && e.Message.Text != "":
		return EventKindText
	default:
		return EventKindUnknown
	}
}

// IsMedia reports whether the event carries a media attachment.
func (e *WebhookEvent) IsMedia() bool {
	return e.Image != nil || e.Video != nil || e.Audio != nil || e.Document != nil
}

// media returns the attachment block for media events, nil otherwise.
func (e *WebhookEvent) media() *MediaAttachment {
	switch {
	case e.Image != nil:
		return e.Image
	case e.Video != nil:
		return e.Video
	case e.Audio != nil:
		return e.Audio
	case e.Document != nil:
		return e.Document
	default:
		return nil
	}
}

// MessageID extracts the gateway message identifier.
//
// Media events prefer the top-level id and fall back to message.id; text
// events read message.id only. Returns "" when the payload carries no
// identifier; an identifier is never invented.
func (e *WebhookEvent) MessageID() string {
	if e.IsMedia() {
		if e.ID != "" {
			return e.ID
		}
		if e.Message != nil {
			return e.Message.ID
		}
		return ""
	}
	if e.Message != nil {
		return e.Message.ID
	}
	return ""
}

// Text returns the message body, or the media caption for media events.
func (e *WebhookEvent) Text() string {
	if m := e.media(); m != nil {
		return m.Caption
	}
	if e.Message != nil {
		return e.Message.Text
	}
	return ""
}

// ReplyID returns the identifier of the message this event replies to, if any.
// Media events carry it at the top level, text events under message.
func (e *WebhookEvent) ReplyID() string {
	if e.IsMedia() {
		return e.RepliedID
	}
	if e.Message != nil {
		return e.Message.RepliedID
	}
	return ""
}

// QuotedText returns the quoted message body when the event is a reply.
func (e *WebhookEvent) QuotedText() string {
	if e.IsMedia() {
		return e.QuotedMessage
	}
	if e.Message != nil {
		return e.Message.QuotedMessage
	}
	return ""
}

// ReplyJID returns the JID replies should be addressed to. Group messages
// arrive as "<user> in <group>"; the reply goes to the group.
func (e *WebhookEvent) ReplyJID() string {
	if _, group, ok := strings.Cut(e.From, groupJIDSeparator); ok {
		return group
	}
	return e.From
}

// DownloadJID returns the JID to pass as the phone parameter of the media
// download API. The gateway indexes media by chat JID, so the device suffix
// (":12@") is stripped and the user domain is ensured.
func (e *WebhookEvent) DownloadJID() string {
	jid := e.From
	if jid == "" {
		jid = e.SenderID
	}
	if _, group, ok := strings.Cut(jid, groupJIDSeparator); ok {
		return group
	}
	if before, _, ok := strings.Cut(jid, ":"); ok && strings.Contains(jid, "@") {
		return before + UserJIDSuffix
	}
	if jid != "" && !strings.Contains(jid, "@") {
		return jid + UserJIDSuffix
	}
	return jid
}

// TriggerKind classifies how an inbound message addresses the assistant.
type TriggerKind string

const (
	// TriggerIgnored means the message does not address the assistant.
	TriggerIgnored TriggerKind = "ignored"
	// TriggerNewQuery means the message starts with the trigger phrase.
	TriggerNewQuery TriggerKind = "new_query"
	// TriggerContinuation means the message replies to one of the assistant's own messages.
	TriggerContinuation TriggerKind = "continuation"
)

// TriggerDecision is the outcome of classifying one inbound message.
// It is derived per event and never stored.
type TriggerDecision struct {
	Kind          TriggerKind `json:"kind"`
	Query         string      `json:"query,omitempty"`
	QuotedContext string      `json:"quoted_context,omitempty"`
}

// ErrorKind buckets upstream LLM failures for credential rotation and
// user-facing messaging.
type ErrorKind string

const (
	// ErrorKindRateLimited covers quota and request-rate rejections (429).
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindServerUnavailable covers overload and outage responses (5xx).
	ErrorKindServerUnavailable ErrorKind = "server_unavailable"
	// ErrorKindAuthFailed covers invalid or expired credentials (401/403).
	ErrorKindAuthFailed ErrorKind = "auth_failed"
	// ErrorKindMalformedRequest covers rejected request shapes (400).
	ErrorKindMalformedRequest ErrorKind = "malformed_request"
	// ErrorKindTimeout covers deadline expiry on our side.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindUnknown is any failure outside the recognized buckets.
	ErrorKindUnknown ErrorKind = "unknown"
)

// Classified reports whether the kind is a recognized failure bucket that
// permits advancing to the next credential or provider.
func (k ErrorKind) Classified() bool {
	switch k {
	case ErrorKindRateLimited, ErrorKindServerUnavailable, ErrorKindAuthFailed,
		ErrorKindMalformedRequest, ErrorKindTimeout:
		return true
	default:
		return false
	}
}

// Attempt records one failed credential call during orchestration.
type Attempt struct {
	Provider        string    `json:"provider"`
	CredentialIndex int       `json:"credential_index"`
	Kind            ErrorKind `json:"kind"`
}

// Completion is a successful orchestration result.
type Completion struct {
	Text            string        `json:"text"`
	Provider        string        `json:"provider"`
	CredentialIndex int           `json:"credential_index"`
	Latency         time.Duration `json:"latency"`
	Sources         []string      `json:"sources,omitempty"`
}

// ProviderExhaustedError reports that every credential tried across the
// attempted providers failed. Attempts preserves the order in which
// credentials were tried.
type ProviderExhaustedError struct {
	Attempts []Attempt
}

// Error implements the error interface.
func (e *ProviderExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "no credentials available for any provider"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("all %d credential attempts failed (last: %s credential %d: %s)",
		len(e.Attempts), last.Provider, last.CredentialIndex, last.Kind)
}

// FinalKind returns the error kind of the last attempt, which drives the
// user-facing apology selection. ErrorKindUnknown when nothing was attempted.
func (e *ProviderExhaustedError) FinalKind() ErrorKind {
	if len(e.Attempts) == 0 {
		return ErrorKindUnknown
	}
	return e.Attempts[len(e.Attempts)-1].Kind
}

// MediaFetchError reports a failure to obtain media bytes for a message.
type MediaFetchError struct {
	MessageID string
	Err       error
}

// Error implements the error interface.
func (e *MediaFetchError) Error() string {
	return fmt.Sprintf("media fetch failed for message %s: %v", e.MessageID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *MediaFetchError) Unwrap() error {
	return e.Err
}

// Passage is a generated Mandarin reading passage persisted by the store.
type Passage struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"` // YYYY-MM-DD in the scheduler's timezone
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageLogKind labels why an outbound message was sent.
type MessageLogKind string

const (
	// MessageLogKindReply is a generated answer to a triggered message.
	MessageLogKindReply MessageLogKind = "reply"
	// MessageLogKindApology is a user-safe failure notice.
	MessageLogKindApology MessageLogKind = "apology"
	// MessageLogKindPassage is a daily or manually generated passage.
	MessageLogKindPassage MessageLogKind = "passage"
	// MessageLogKindSummary is a chat summary reply.
	MessageLogKindSummary MessageLogKind = "summary"
	// MessageLogKindQuery is a response to a direct API query.
	MessageLogKindQuery MessageLogKind = "query"
)

// MessageLog is an audit row for one outbound send.
type MessageLog struct {
	ID        string         `json:"id"`
	Recipient string         `json:"recipient"`
	Body      string         `json:"body"`
	ReplyTo   string         `json:"reply_to,omitempty"`
	Kind      MessageLogKind `json:"kind"`
	SentAt    time.Time      `json:"sent_at"`
}

// API request payloads

// QueryRequest is the payload for POST /query.
type QueryRequest struct {
	Query         string `json:"query"`
	QuotedContext string `json:"quoted_context,omitempty"`
	Recipient     string `json:"recipient,omitempty"`
}

// Validate performs validation on a QueryRequest.
func (r *QueryRequest) Validate() error {
	if r.Query == "" {
		return ErrEmptyQuery
	}
	if len(r.Query) > MaxQueryLength {
		return ErrQueryTooLong
	}
	return nil
}

// GeneratePassageRequest is the payload for POST /mandarin/generate.
type GeneratePassageRequest struct {
	Topic     string `json:"topic,omitempty"`
	Recipient string `json:"recipient,omitempty"` // empty sends to all configured recipients
}

// Validate performs validation on a GeneratePassageRequest.
func (r *GeneratePassageRequest) Validate() error {
	if len(r.Topic) > MaxTopicLength {
		return ErrTopicTooLong
	}
	return nil
}

// SummarizeRequest is the payload for POST /summarize.
type SummarizeRequest struct {
	ChatJID      string `json:"chat_jid"`
	MessageCount int    `json:"message_count"`
}

// Validate performs validation on a SummarizeRequest.
func (r *SummarizeRequest) Validate() error {
	if r.ChatJID == "" {
		return ErrEmptyChatJID
	}
	if r.MessageCount <= 0 {
		return ErrInvalidMessageCount
	}
	return nil
}

// API result payloads

// QueryResult is returned by POST /query.
type QueryResult struct {
	Response     string   `json:"response"`
	SourcesUsed  []string `json:"sources_used,omitempty"`
	SentTo       string   `json:"sent_to,omitempty"`
	ProviderUsed string   `json:"provider_used"`
}

// PassageResult is returned by POST /mandarin/generate.
type PassageResult struct {
	Passage     string    `json:"passage"`
	Topic       string    `json:"topic"`
	GeneratedAt time.Time `json:"generated_at"`
	SentTo      []string  `json:"sent_to,omitempty"`
}

// SummaryResult is returned by POST /summarize.
type SummaryResult struct {
	Summary          string    `json:"summary"`
	MessagesAnalyzed int       `json:"messages_analyzed"`
	Participants     []string  `json:"participants,omitempty"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
