// Package messaging provides pluggable outbound message delivery for Akasha.
//
// The default backend sends through the GoWA gateway with reply threading; a
// Twilio backend covers deployments without a gateway. The Dispatcher sits on
// top of a Service and handles audit logging, own-message tracking, and
// user-safe failure notices.
package messaging

import (
	"context"
	"regexp"
)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	// This allows each service to implement its own recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient and returns the backend's
	// message identifier.
	SendMessage(ctx context.Context, to string, body string) (string, error)

	// SendReply sends a message threaded to an earlier message. Backends
	// without threading support deliver unthreaded.
	SendReply(ctx context.Context, to string, body string, replyTo string) (string, error)
}

// phoneNumberRegex matches everything that is not a digit, for recipient
// canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)
