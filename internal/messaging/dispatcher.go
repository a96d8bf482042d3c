package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/Akasha/internal/dedup"
	"github.com/BTreeMap/Akasha/internal/genai"
	"github.com/BTreeMap/Akasha/internal/models"
	"github.com/BTreeMap/Akasha/internal/store"
)

// User-facing failure notices. Raw provider errors never reach the user;
// one of these is sent instead.
const (
	// ApologyOverloaded is sent when the upstream service reported overload or outage.
	ApologyOverloaded = "The AI service is temporarily overloaded. I tried all available API keys but couldn't connect. Please try again in a moment."
	// ApologyRateLimited is sent when the final failure was a rate limit or quota rejection.
	ApologyRateLimited = "I'm currently experiencing high demand and hit my rate limit. Please wait a moment and try again."
	// ApologyHighDemandImage is the rate-limit notice for image queries.
	ApologyHighDemandImage = "I'm currently experiencing high demand. Please wait a moment and try again."
	// ApologyExhausted is sent when every credential was tried without success.
	ApologyExhausted = "All my API resources are temporarily exhausted. Please try again in a few minutes."
	// ApologyTimeout is sent when a request exceeded its processing deadline.
	ApologyTimeout = "The request took too long to process. Please try again with a simpler question."
	// ApologyAuth is sent when the credentials themselves were rejected.
	ApologyAuth = "I'm having trouble connecting to my AI service. Please notify the administrator."
	// ApologyGeneric is the fallback notice for unrecognized failures.
	ApologyGeneric = "Sorry, I encountered an error processing your request. Please try again."
	// ApologyImageGeneric is the fallback notice for image query failures.
	ApologyImageGeneric = "Sorry, I couldn't process the image. Please try again."
	// ApologyDownload is sent when the user's media could not be fetched.
	ApologyDownload = "I couldn't download the image. Please try sending it again."
)

// Dispatcher delivers outbound messages on top of a Service. Every send is
// recorded in the outbound audit log, and the backend's message ID is added
// to the own-message tracker so later replies to it classify as
// continuations. Apology sends are tracked too, so users can reply to them.
type Dispatcher struct {
	service Service
	own     *dedup.Tracker
	store   store.Store
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher. The own tracker and store may be nil,
// disabling own-message tracking and audit logging respectively.
func NewDispatcher(service Service, own *dedup.Tracker, st store.Store) *Dispatcher {
	return &Dispatcher{
		service: service,
		own:     own,
		store:   st,
		now:     time.Now,
	}
}

// Send delivers an unthreaded message.
func (d *Dispatcher) Send(ctx context.Context, to, body string, kind models.MessageLogKind) (string, error) {
	return d.SendThreaded(ctx, to, body, "", kind)
}

// SendThreaded delivers a message threaded to an earlier message and returns
// the backend's message identifier. Audit logging failures are logged, never
// propagated: the user already has their reply.
func (d *Dispatcher) SendThreaded(ctx context.Context, to, body, replyTo string, kind models.MessageLogKind) (string, error) {
	msgID, err := d.service.SendReply(ctx, to, body, replyTo)
	if err != nil {
		slog.Error("Dispatcher send failed", "error", err, "to", to, "kind", kind)
		return "", err
	}

	if msgID != "" && d.own != nil {
		d.own.Record(msgID)
		slog.Debug("Dispatcher tracked own message", "message_id", msgID)
	}
	d.logMessage(to, body, replyTo, kind)

	slog.Info("Dispatcher message sent", "to", to, "kind", kind, "message_id", msgID)
	return msgID, nil
}

// SendApology delivers the user-safe notice for a processing failure,
// threaded to the triggering message. Send failures are logged and dropped;
// there is nobody left to tell.
func (d *Dispatcher) SendApology(ctx context.Context, to, replyTo string, cause error, image bool) {
	text := ApologyFor(cause, image)
	if _, err := d.SendThreaded(ctx, to, text, replyTo, models.MessageLogKindApology); err != nil {
		slog.Error("Dispatcher failed to send apology", "error", err, "to", to)
	}
}

func (d *Dispatcher) logMessage(to, body, replyTo string, kind models.MessageLogKind) {
	if d.store == nil {
		return
	}
	entry := models.MessageLog{
		ID:        uuid.New().String(),
		Recipient: to,
		Body:      body,
		ReplyTo:   replyTo,
		Kind:      kind,
		SentAt:    d.now(),
	}
	if err := d.store.LogMessage(entry); err != nil {
		slog.Error("Dispatcher failed to record outbound message", "error", err, "to", to)
	}
}

// ApologyFor picks the user-facing notice for a processing failure. The
// image variants apply to queries that carried an image attachment.
func ApologyFor(err error, image bool) string {
	var mediaErr *models.MediaFetchError
	if errors.As(err, &mediaErr) {
		return ApologyDownload
	}

	var exhausted *models.ProviderExhaustedError
	if errors.As(err, &exhausted) {
		switch exhausted.FinalKind() {
		case models.ErrorKindServerUnavailable:
			return ApologyOverloaded
		case models.ErrorKindRateLimited:
			if image {
				return ApologyHighDemandImage
			}
			return ApologyRateLimited
		default:
			return ApologyExhausted
		}
	}

	switch genai.Classify(err) {
	case models.ErrorKindServerUnavailable:
		return ApologyOverloaded
	case models.ErrorKindRateLimited:
		if image {
			return ApologyHighDemandImage
		}
		return ApologyRateLimited
	case models.ErrorKindTimeout:
		if image {
			return ApologyImageGeneric
		}
		return ApologyTimeout
	case models.ErrorKindAuthFailed:
		if image {
			return ApologyImageGeneric
		}
		return ApologyAuth
	default:
		if image {
			return ApologyImageGeneric
		}
		return ApologyGeneric
	}
}
