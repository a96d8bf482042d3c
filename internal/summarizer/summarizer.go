// Package summarizer turns WhatsApp chat history into short summaries.
//
// It backs both the in-chat "akasha, summarize the previous N messages"
// command and the POST /summarize endpoint.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/Akasha/internal/gowa"
	"github.com/BTreeMap/Akasha/internal/models"
)

// summaryTemperature keeps summaries factual.
const summaryTemperature = 0.3

// NoMessagesReply is the chat reply when the history fetch finds nothing.
const NoMessagesReply = "I couldn't find any messages to summarize in this chat."

// Summary texts for degenerate histories.
const (
	emptySummary  = "No messages to summarize."
	noTextSummary = "No text messages found to summarize."
)

const summarySystemInstruction = `You are a helpful assistant that summarizes chat conversations.
Your summaries should:
- Be in the same language as the original messages
- Attribute statements to specific participants
- Capture the essence of the discussion
- Be neutral and factual`

const summaryPromptFmt = `Summarize the following chat conversation. Include who said what and the main topics discussed.

Chat messages:
%s

Requirements:
- Write the summary in the same language as the messages
- Mention key participants and their contributions
- Highlight main topics and any decisions or conclusions
- Keep it concise but comprehensive
- Format as a readable summary paragraph or bullet points`

// commandPattern matches the in-chat summarize command, e.g.
// "akasha, summarize the previous 50 messages".
var commandPattern = regexp.MustCompile(`(?i)^akasha,\s*summarize\s+the\s+previous\s+(\d+)\s+messages?$`)

// TextGenerator produces one plain completion for a system+prompt pair.
// *genai.Orchestrator satisfies it.
type TextGenerator interface {
	GenerateText(ctx context.Context, system, prompt string, temperature float64) (*models.Completion, error)
}

// HistoryFetcher pulls recent messages for a chat. gowa.Gateway satisfies it.
type HistoryFetcher interface {
	ChatMessages(ctx context.Context, chatJID string, limit int) ([]gowa.ChatMessage, error)
}

// Opts holds configuration options for the summarizer.
type Opts struct {
	// MaxMessages caps how much history one summary may pull.
	MaxMessages int
}

// Option defines a configuration option for the summarizer.
type Option func(*Opts)

// WithMaxMessages caps the per-summary history size.
func WithMaxMessages(n int) Option {
	return func(o *Opts) { o.MaxMessages = n }
}

// Summarizer fetches chat history and produces summaries.
type Summarizer struct {
	gateway     HistoryFetcher
	gen         TextGenerator
	maxMessages int
	now         func() time.Time
}

// NewSummarizer creates a summarizer over the given gateway and generator.
func NewSummarizer(gateway HistoryFetcher, gen TextGenerator, opts ...Option) *Summarizer {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = models.MaxSummarizeMessages
	}
	return &Summarizer{
		gateway:     gateway,
		gen:         gen,
		maxMessages: cfg.MaxMessages,
		now:         time.Now,
	}
}

// MaxMessages returns the configured history cap.
func (s *Summarizer) MaxMessages() int {
	return s.maxMessages
}

// MatchCommand reports whether text is the in-chat summarize command and
// returns the requested message count, capped at the configured maximum.
func (s *Summarizer) MatchCommand(text string) (int, bool) {
	m := commandPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}
	count, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if count > s.maxMessages {
		count = s.maxMessages
	}
	return count, true
}

// Summarize pulls up to count messages from a chat and produces a summary.
// Degenerate histories (nothing fetched, no text content) yield a fixed
// summary text without a completion call.
func (s *Summarizer) Summarize(ctx context.Context, chatJID string, count int) (*models.SummaryResult, error) {
	if count > s.maxMessages {
		count = s.maxMessages
	}

	messages, err := s.gateway.ChatMessages(ctx, chatJID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chat history: %w", err)
	}

	result := &models.SummaryResult{
		MessagesAnalyzed: len(messages),
		GeneratedAt:      s.now(),
	}
	if len(messages) == 0 {
		result.Summary = emptySummary
		return result, nil
	}

	transcript, participants := formatTranscript(messages)
	if transcript == "" {
		result.Summary = noTextSummary
		return result, nil
	}

	completion, err := s.gen.GenerateText(ctx, summarySystemInstruction,
		fmt.Sprintf(summaryPromptFmt, transcript), summaryTemperature)
	if err != nil {
		return nil, fmt.Errorf("summary generation failed: %w", err)
	}

	result.Summary = strings.TrimSpace(completion.Text)
	result.Participants = participants
	slog.Info("Summarizer generated summary",
		"chat_jid", chatJID, "messages", len(messages), "participants", len(participants))
	return result, nil
}

// FormatReply renders a summary result as the chat reply message.
func FormatReply(result *models.SummaryResult) string {
	if result.MessagesAnalyzed == 0 {
		return NoMessagesReply
	}
	reply := fmt.Sprintf("*Chat Summary* (%d messages)\n\n%s", result.MessagesAnalyzed, result.Summary)
	if len(result.Participants) > 0 {
		reply += fmt.Sprintf("\n\n*Participants:* %s", strings.Join(result.Participants, ", "))
	}
	return reply
}

// formatTranscript renders messages as "[sender]: text" lines and collects
// the participant names. Senders display as the JID local part; messages
// without text content are skipped.
func formatTranscript(messages []gowa.ChatMessage) (string, []string) {
	seen := make(map[string]bool)
	var participants []string
	var lines []string

	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		sender := "Unknown"
		if msg.SenderJID != "" {
			sender, _, _ = strings.Cut(msg.SenderJID, "@")
		}
		if !seen[sender] {
			seen[sender] = true
			participants = append(participants, sender)
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s", sender, msg.Content))
	}

	sort.Strings(participants)
	return strings.Join(lines, "\n"), participants
}
