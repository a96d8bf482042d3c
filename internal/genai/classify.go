package genai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/Akasha/internal/models"
)

// Classify maps a completion error to an ErrorKind. Kinds other than
// ErrorKindUnknown mark the error as transient or credential-scoped, which
// lets the provider chain rotate to the next credential or provider.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return models.ErrorKindRateLimited
		case apiErr.StatusCode >= http.StatusInternalServerError:
			return models.ErrorKindServerUnavailable
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return models.ErrorKindAuthFailed
		case apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusUnprocessableEntity:
			return models.ErrorKindMalformedRequest
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "429", "quota", "rate limit", "rate_limit", "ratelimit", "resource_exhausted", "exhausted"):
		return models.ErrorKindRateLimited
	case containsAny(msg, "api_key_invalid", "api key expired", "invalid api key", "incorrect api key", "permission_denied"):
		return models.ErrorKindAuthFailed
	case containsAny(msg, "invalid_argument"):
		return models.ErrorKindMalformedRequest
	case containsAny(msg, "503", "500", "unavailable", "overload", "internal error", "temporarily unavailable"):
		return models.ErrorKindServerUnavailable
	case containsAny(msg, "timeout", "deadline exceeded", "timed out"):
		return models.ErrorKindTimeout
	}
	return models.ErrorKindUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
