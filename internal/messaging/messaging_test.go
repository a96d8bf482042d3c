package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/Akasha/internal/gowa"
	"github.com/BTreeMap/Akasha/internal/twiliowhatsapp"
)

func TestGowaServiceCanonicalizeRecipient(t *testing.T) {
	s := NewGowaService(gowa.NewMockClient())

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"6289608842518@s.whatsapp.net", "6289608842518@s.whatsapp.net", false},
		{"6289608842518:40@s.whatsapp.net", "6289608842518@s.whatsapp.net", false},
		{"123456789-987654@g.us", "123456789-987654@g.us", false},
		{"6289608842518", "6289608842518@s.whatsapp.net", false},
		{"+62 896-0884-2518", "6289608842518@s.whatsapp.net", false},
		{"@s.whatsapp.net", "", true},
		{"12345", "", true},
		{"abc", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := s.ValidateAndCanonicalizeRecipient(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q): expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestGowaServiceSendReply(t *testing.T) {
	mock := gowa.NewMockClient()
	s := NewGowaService(mock)

	msgID, err := s.SendReply(context.Background(), "6289608842518", "hello", "orig-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgID == "" {
		t.Error("expected a message ID")
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sent))
	}
	if sent[0].Phone != "6289608842518@s.whatsapp.net" {
		t.Errorf("expected canonicalized recipient, got %q", sent[0].Phone)
	}
	if sent[0].ReplyMessageID != "orig-1" {
		t.Errorf("expected threaded reply, got %q", sent[0].ReplyMessageID)
	}
}

func TestGowaServiceValidationShortCircuits(t *testing.T) {
	mock := gowa.NewMockClient()
	s := NewGowaService(mock)

	if _, err := s.SendMessage(context.Background(), "abc", "hello"); err == nil {
		t.Fatal("expected validation error")
	}
	if len(mock.Sent()) != 0 {
		t.Error("invalid recipient should not reach the gateway")
	}
}

func TestTwilioServiceCanonicalizeRecipient(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())

	got, err := s.ValidateAndCanonicalizeRecipient("+1 (555) 123-4567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "15551234567" {
		t.Errorf("expected digits only, got %q", got)
	}

	if _, err := s.ValidateAndCanonicalizeRecipient(""); err == nil {
		t.Error("expected error for empty recipient")
	}
	if _, err := s.ValidateAndCanonicalizeRecipient("123"); err == nil {
		t.Error("expected error for short number")
	}
}

func TestTwilioServiceSendReplyUnthreaded(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	s := NewTwilioService(mock)

	sid, err := s.SendReply(context.Background(), "15551234567", "hello", "orig-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid == "" {
		t.Error("expected a message SID")
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "15551234567" {
		t.Errorf("unexpected recipient %q", mock.SentMessages[0].To)
	}
}

func TestTwilioServiceSendError(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	mock.SendErr = errors.New("twilio down")
	s := NewTwilioService(mock)

	if _, err := s.SendMessage(context.Background(), "15551234567", "hello"); err == nil {
		t.Fatal("expected error")
	}
}
