package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/BTreeMap/Akasha/internal/models"
)

// SignatureHeader carries the HMAC-SHA256 signature of a webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// SignBody computes the signature header value for a webhook body.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time. A missing,
// malformed, or mismatched header yields models.ErrInvalidSignature.
func VerifySignature(secret string, body []byte, header string) error {
	if !hmac.Equal([]byte(SignBody(secret, body)), []byte(header)) {
		return models.ErrInvalidSignature
	}
	return nil
}
