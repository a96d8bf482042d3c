// Package trigger decides whether an inbound message addresses the assistant.
package trigger

import (
	"strings"

	"github.com/BTreeMap/Akasha/internal/dedup"
	"github.com/BTreeMap/Akasha/internal/models"
)

// DefaultPhrase is the prefix that summons the assistant.
const DefaultPhrase = "hey akasha,"

// Classifier derives trigger decisions from inbound events.
type Classifier struct {
	phrase string
	own    *dedup.Tracker
}

// NewClassifier creates a classifier for the given trigger phrase. The own
// tracker holds the bot's sent message IDs so replies to them can be detected
// as continuations. An empty phrase falls back to DefaultPhrase.
func NewClassifier(phrase string, own *dedup.Tracker) *Classifier {
	if phrase == "" {
		phrase = DefaultPhrase
	}
	return &Classifier{
		phrase: strings.ToLower(phrase),
		own:    own,
	}
}

// Phrase returns the active trigger phrase.
func (c *Classifier) Phrase() string {
	return c.phrase
}

// Classify derives the trigger decision for one event.
//
// A message starting with the trigger phrase (case-insensitive, surrounding
// whitespace ignored) is a NewQuery whose query is the trimmed remainder; an
// empty remainder is still a valid NewQuery. A message replying to one of the
// bot's own messages is a Continuation whose query is the full message text,
// carrying the quoted text as context. Everything else is ignored. Media
// captions stand in for text, so a captioned image can both trigger and
// continue.
func (c *Classifier) Classify(event *models.WebhookEvent) models.TriggerDecision {
	text := event.Text()

	if query, ok := c.Match(text); ok {
		return models.TriggerDecision{
			Kind:          models.TriggerNewQuery,
			Query:         query,
			QuotedContext: event.QuotedText(),
		}
	}

	if replyID := event.ReplyID(); replyID != "" && c.own != nil && c.own.IsDuplicate(replyID) {
		return models.TriggerDecision{
			Kind:          models.TriggerContinuation,
			Query:         strings.TrimSpace(text),
			QuotedContext: event.QuotedText(),
		}
	}

	return models.TriggerDecision{Kind: models.TriggerIgnored}
}

// Match reports whether text starts with the trigger phrase and returns the
// trimmed remainder as the query.
func (c *Classifier) Match(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(strings.ToLower(trimmed), c.phrase) {
		return "", false
	}
	return strings.TrimSpace(trimmed[len(c.phrase):]), true
}
