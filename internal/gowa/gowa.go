// Package gowa wraps the GoWA (go-whatsapp-web-multidevice) HTTP API for
// WhatsApp integration in Akasha.
//
// The WhatsApp session itself lives in the external gateway; this client
// covers the endpoints Akasha exercises: sending messages, downloading media,
// fetching chat history, and checking gateway health.
package gowa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Constants for GoWA client configuration
const (
	// DefaultBaseURL is the default gateway address inside the compose network.
	DefaultBaseURL = "http://whatsapp:3000"
	// DefaultTimeout bounds each HTTP call to the gateway.
	DefaultTimeout = 30 * time.Second
	// CodeSuccess is the envelope code of a successful gateway response.
	CodeSuccess = "SUCCESS"

	// sendAttempts is how many times a send is tried before giving up.
	sendAttempts = 3
	// sendBackoffBase is the first retry delay for sends; it doubles per attempt.
	sendBackoffBase = 2 * time.Second
	// downloadAttempts is how many times a media download is tried.
	downloadAttempts = 2
	// downloadBackoffBase is the fixed retry delay for downloads.
	downloadBackoffBase = time.Second

	// downloadedToMarker appears in the JSON answer of the download endpoint
	// when the gateway has written the media to its static file tree instead
	// of streaming it back.
	downloadedToMarker = "downloaded successfully to "
)

// Gateway captures the GoWA operations Akasha uses (for production and testing).
type Gateway interface {
	SendMessage(ctx context.Context, phone, message, replyMessageID string) (*SendResult, error)
	DownloadMedia(ctx context.Context, messageID, phone string) ([]byte, string, error)
	DownloadMediaFromPath(ctx context.Context, filePath string) ([]byte, string, error)
	ChatMessages(ctx context.Context, chatJID string, limit int) ([]ChatMessage, error)
	CheckHealth(ctx context.Context) bool
}

// SendResult is the results block of a successful send.
type SendResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// ChatMessage is one history entry from the chat messages endpoint.
type ChatMessage struct {
	SenderJID string `json:"sender_jid"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// envelope is the standard GoWA response wrapper.
type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Results json.RawMessage `json:"results,omitempty"`
}

// APIError reports a gateway response whose envelope code was not SUCCESS.
type APIError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("gowa API error: code=%s message=%s", e.Code, e.Message)
}

// Opts holds configuration options for the GoWA client.
type Opts struct {
	BaseURL  string        // gateway base URL
	Username string        // basic auth user
	Password string        // basic auth password
	Timeout  time.Duration // per-request timeout
}

// Option defines a configuration option for the GoWA client.
type Option func(*Opts)

// WithBaseURL sets the gateway base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithBasicAuth sets the gateway basic auth credentials.
func WithBasicAuth(username, password string) Option {
	return func(o *Opts) {
		o.Username = username
		o.Password = password
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// Client is the HTTP client for the GoWA gateway.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	// retry delays (overridable in tests)
	sendBackoff     time.Duration
	downloadBackoff time.Duration
}

// NewClient creates a new GoWA client, applying any provided options.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	slog.Debug("GowaClient.NewClient: options set", "base_url", baseURL, "auth_set", cfg.Username != "")
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		username:        cfg.Username,
		password:        cfg.Password,
		http:            &http.Client{Timeout: timeout},
		sendBackoff:     sendBackoffBase,
		downloadBackoff: downloadBackoffBase,
	}
}

type sendMessageRequest struct {
	Phone          string `json:"phone"`
	Message        string `json:"message"`
	ReplyMessageID string `json:"reply_message_id,omitempty"`
}

// SendMessage sends a text message through the gateway, optionally threading
// it as a reply to replyMessageID. Transient failures are retried with
// doubling backoff.
func (c *Client) SendMessage(ctx context.Context, phone, message, replyMessageID string) (*SendResult, error) {
	if phone == "" {
		return nil, fmt.Errorf("recipient cannot be empty")
	}
	if message == "" {
		return nil, fmt.Errorf("message cannot be empty")
	}

	body, err := json.Marshal(sendMessageRequest{
		Phone:          phone,
		Message:        message,
		ReplyMessageID: replyMessageID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode send request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < sendAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.sendBackoff << (attempt - 1)
			slog.Warn("GowaClient.SendMessage: retrying send", "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, retryable, err := c.trySend(ctx, body)
		if err == nil {
			slog.Debug("GowaClient.SendMessage: message sent", "to", phone, "message_id", result.MessageID)
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("send failed after %d attempts: %w", sendAttempts, lastErr)
}

// trySend performs one send call. The second return reports whether the
// failure is worth retrying (transport errors and 5xx responses).
func (c *Client) trySend(ctx context.Context, body []byte) (*SendResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send/message", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, fmt.Errorf("send failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("send failed with status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, false, fmt.Errorf("failed to decode send response: %w", err)
	}
	if env.Code != CodeSuccess {
		return nil, false, &APIError{Code: env.Code, Message: env.Message}
	}

	var result SendResult
	if err := json.Unmarshal(env.Results, &result); err != nil {
		return nil, false, fmt.Errorf("failed to decode send results: %w", err)
	}
	return &result, false, nil
}

// DownloadMedia fetches the media attached to a message via the on-demand
// download endpoint. When the gateway answers with JSON naming a static file
// path (its auto-download mode), the bytes are fetched from that path instead.
// Returns the media bytes and MIME type.
func (c *Client) DownloadMedia(ctx context.Context, messageID, phone string) ([]byte, string, error) {
	if messageID == "" {
		return nil, "", fmt.Errorf("message id cannot be empty")
	}

	endpoint := fmt.Sprintf("%s/message/%s/download?phone=%s", c.baseURL, url.PathEscape(messageID), url.QueryEscape(phone))

	var lastErr error
	for attempt := 0; attempt < downloadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(c.downloadBackoff):
			}
		}

		data, mime, retryable, err := c.tryDownload(ctx, endpoint, true)
		if err == nil {
			slog.Debug("GowaClient.DownloadMedia: media downloaded", "message_id", messageID, "mime", mime, "bytes", len(data))
			return data, mime, nil
		}
		lastErr = err
		if !retryable {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("media download failed after %d attempts: %w", downloadAttempts, lastErr)
}

// DownloadMediaFromPath fetches media from the gateway's static file tree.
// The webhook names such paths in its file_path field when auto-download is
// enabled.
func (c *Client) DownloadMediaFromPath(ctx context.Context, filePath string) ([]byte, string, error) {
	if filePath == "" {
		return nil, "", fmt.Errorf("file path cannot be empty")
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(filePath, "/")

	var lastErr error
	for attempt := 0; attempt < downloadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(c.downloadBackoff):
			}
		}

		data, mime, retryable, err := c.tryDownload(ctx, endpoint, false)
		if err == nil {
			slog.Debug("GowaClient.DownloadMediaFromPath: media downloaded", "path", filePath, "mime", mime, "bytes", len(data))
			return data, mime, nil
		}
		lastErr = err
		if !retryable {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("media download failed after %d attempts: %w", downloadAttempts, lastErr)
}

// tryDownload performs one media fetch. followJSON enables the auto-download
// redirect: a JSON answer naming a static path is resolved recursively.
func (c *Client) tryDownload(ctx context.Context, endpoint string, followJSON bool) ([]byte, string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to build download request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", true, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, "", true, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", false, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	mime := mediaType(resp.Header.Get("Content-Type"))
	if mime == "application/json" {
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, "", false, fmt.Errorf("no downloadable media: %w", err)
		}
		if followJSON {
			if _, path, ok := strings.Cut(env.Message, downloadedToMarker); ok {
				path = strings.TrimSpace(path)
				slog.Debug("GowaClient.tryDownload: media at static path, following", "path", path)
				data, pathMime, err := c.DownloadMediaFromPath(ctx, path)
				return data, pathMime, false, err
			}
		}
		return nil, "", false, fmt.Errorf("no downloadable media: %s", env.Message)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", true, fmt.Errorf("failed to read media body: %w", err)
	}
	return data, mime, false, nil
}

// ChatMessages fetches up to limit recent messages from a chat.
func (c *Client) ChatMessages(ctx context.Context, chatJID string, limit int) ([]ChatMessage, error) {
	if chatJID == "" {
		return nil, fmt.Errorf("chat jid cannot be empty")
	}
	if limit <= 0 {
		limit = 50
	}

	endpoint := fmt.Sprintf("%s/chat/%s/messages?limit=%s", c.baseURL, url.PathEscape(chatJID), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build chat messages request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat messages request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat messages failed with status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode chat messages response: %w", err)
	}
	if env.Code != CodeSuccess {
		return nil, &APIError{Code: env.Code, Message: env.Message}
	}

	var messages []ChatMessage
	if len(env.Results) > 0 {
		if err := json.Unmarshal(env.Results, &messages); err != nil {
			return nil, fmt.Errorf("failed to decode chat messages results: %w", err)
		}
	}
	slog.Debug("GowaClient.ChatMessages: history fetched", "chat_jid", chatJID, "count", len(messages))
	return messages, nil
}

// CheckHealth reports whether the gateway is reachable and logged in.
func (c *Client) CheckHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/app/devices", nil)
	if err != nil {
		return false
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("GowaClient.CheckHealth: health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// setAuth applies basic auth when credentials are configured.
func (c *Client) setAuth(req *http.Request) {
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

// mediaType strips parameters from a Content-Type header value.
func mediaType(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	mime, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mime)
}

// SentMessage records one MockClient send (for tests).
type SentMessage struct {
	Phone          string
	Message        string
	ReplyMessageID string
}

// MockClient implements Gateway without network access.
// In tests, use gowa.NewMockClient() instead of NewClient to avoid real
// gateway connections.
type MockClient struct {
	mu            sync.Mutex
	sent          []SentMessage
	SendErr       error
	NextMessageID string
	MediaByID     map[string][]byte
	MediaByPath   map[string][]byte
	MediaMime     string
	Messages      []ChatMessage
	Healthy       bool
}

// NewMockClient creates a MockClient with healthy defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		MediaByID:   make(map[string][]byte),
		MediaByPath: make(map[string][]byte),
		MediaMime:   "image/jpeg",
		Healthy:     true,
	}
}

// SendMessage records the send and returns a synthetic message ID.
func (m *MockClient) SendMessage(ctx context.Context, phone, message, replyMessageID string) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	m.sent = append(m.sent, SentMessage{Phone: phone, Message: message, ReplyMessageID: replyMessageID})
	id := m.NextMessageID
	if id == "" {
		id = fmt.Sprintf("mock-msg-%d", len(m.sent))
	}
	return &SendResult{MessageID: id, Status: "sent"}, nil
}

// DownloadMedia returns bytes registered in MediaByID.
func (m *MockClient) DownloadMedia(ctx context.Context, messageID, phone string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.MediaByID[messageID]; ok {
		return data, m.MediaMime, nil
	}
	return nil, "", fmt.Errorf("no downloadable media in message %s", messageID)
}

// DownloadMediaFromPath returns bytes registered in MediaByPath.
func (m *MockClient) DownloadMediaFromPath(ctx context.Context, filePath string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.MediaByPath[filePath]; ok {
		return data, m.MediaMime, nil
	}
	return nil, "", fmt.Errorf("failed to download media from path: %s", filePath)
}

// ChatMessages returns the registered history, newest first, up to limit.
func (m *MockClient) ChatMessages(ctx context.Context, chatJID string, limit int) ([]ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.Messages) {
		limit = len(m.Messages)
	}
	out := make([]ChatMessage, limit)
	copy(out, m.Messages[:limit])
	return out, nil
}

// CheckHealth reports the configured health state.
func (m *MockClient) CheckHealth(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Healthy
}

// Sent returns a copy of the recorded sends.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
