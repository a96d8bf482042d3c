package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/Akasha/internal/gowa"
	"github.com/BTreeMap/Akasha/internal/models"
)

// GowaService implements Service using the GoWA gateway client.
type GowaService struct {
	gateway gowa.Gateway
}

// NewGowaService creates a GowaService wrapping the given gateway.
func NewGowaService(gateway gowa.Gateway) *GowaService {
	return &GowaService{gateway: gateway}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// recipient. Full JIDs (user or group) pass through with any device suffix
// stripped; bare phone numbers are reduced to digits, validated, and given
// the user JID domain.
func (s *GowaService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}

	trimmed := strings.TrimSpace(recipient)
	if local, domain, ok := strings.Cut(trimmed, "@"); ok {
		// Strip device ID if present ("6281234:40@s.whatsapp.net" -> "6281234@s.whatsapp.net")
		if user, _, hasDevice := strings.Cut(local, ":"); hasDevice {
			local = user
		}
		if local == "" || domain == "" {
			return "", fmt.Errorf("invalid recipient JID %q", recipient)
		}
		canonical := local + "@" + domain
		if canonical != recipient {
			slog.Debug("GowaService canonicalized recipient", "original", recipient, "canonical", canonical)
		}
		return canonical, nil
	}

	// Canonicalize by removing all non-numeric characters
	canonical := phoneNumberRegex.ReplaceAllString(trimmed, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	canonical += models.UserJIDSuffix
	slog.Debug("GowaService canonicalized recipient", "original", recipient, "canonical", canonical)
	return canonical, nil
}

// SendMessage sends an unthreaded message through the gateway.
func (s *GowaService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	return s.SendReply(ctx, to, body, "")
}

// SendReply sends a message threaded to an earlier message through the
// gateway. An empty replyTo sends unthreaded.
func (s *GowaService) SendReply(ctx context.Context, to string, body string, replyTo string) (string, error) {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("GowaService send validation error", "error", err, "to", to)
		return "", err
	}

	result, err := s.gateway.SendMessage(ctx, canonicalTo, body, replyTo)
	if err != nil {
		return "", err
	}
	return result.MessageID, nil
}
