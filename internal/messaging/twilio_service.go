package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/Akasha/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// It exists for outbound-only deployments that run without a GoWA gateway.
type TwilioService struct {
	client twiliowhatsapp.TwilioWhatsAppSender // Could be real Twilio client or MockClient
}

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{client: client}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	// Canonicalize by removing all non-numeric characters
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	wasModified := recipient != canonical

	// Validate canonicalized phone number
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	// Log if canonicalization modified the recipient
	if wasModified {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}

	return canonical, nil
}

// SendMessage sends a message via Twilio and returns the message SID.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return "", err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// SendReply sends a message via Twilio. The Twilio WhatsApp API has no reply
// threading, so the message is delivered unthreaded.
func (s *TwilioService) SendReply(ctx context.Context, to string, body string, replyTo string) (string, error) {
	if replyTo != "" {
		slog.Warn("TwilioService SendReply: threading unsupported, sending unthreaded", "to", to, "reply_to", replyTo)
	}
	return s.SendMessage(ctx, to, body)
}
