package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/Akasha/internal/dedup"
	"github.com/BTreeMap/Akasha/internal/genai"
	"github.com/BTreeMap/Akasha/internal/gowa"
	"github.com/BTreeMap/Akasha/internal/models"
	"github.com/BTreeMap/Akasha/internal/ratelimit"
	"github.com/BTreeMap/Akasha/internal/trigger"
)

type answerCall struct {
	query  string
	quoted string
	image  []byte
	mime   string
}

type mockAnswerer struct {
	mu    sync.Mutex
	calls []answerCall
	text  string
	err   error
}

func (m *mockAnswerer) Answer(ctx context.Context, q *genai.QueryInput) (*models.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, answerCall{query: q.Query, quoted: q.QuotedContext, image: q.ImageData, mime: q.ImageMIME})
	if m.err != nil {
		return nil, m.err
	}
	return &models.Completion{Text: m.text, Provider: "mock"}, nil
}

func (m *mockAnswerer) answered() []answerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]answerCall, len(m.calls))
	copy(out, m.calls)
	return out
}

type sentReply struct {
	to      string
	body    string
	replyTo string
	kind    models.MessageLogKind
}

type apologyCall struct {
	to      string
	replyTo string
	cause   error
	image   bool
}

type mockReplier struct {
	mu        sync.Mutex
	replies   []sentReply
	apologies []apologyCall
	sendErr   error
}

func (m *mockReplier) SendThreaded(ctx context.Context, to, body, replyTo string, kind models.MessageLogKind) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.replies = append(m.replies, sentReply{to: to, body: body, replyTo: replyTo, kind: kind})
	return "sent-1", nil
}

func (m *mockReplier) SendApology(ctx context.Context, to, replyTo string, cause error, image bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apologies = append(m.apologies, apologyCall{to: to, replyTo: replyTo, cause: cause, image: image})
}

func (m *mockReplier) sent() []sentReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentReply, len(m.replies))
	copy(out, m.replies)
	return out
}

func (m *mockReplier) apologized() []apologyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]apologyCall, len(m.apologies))
	copy(out, m.apologies)
	return out
}

type summaryRequest struct {
	chatJID string
	count   int
}

type mockSummarizer struct {
	matched    bool
	matchCount int
	result     *models.SummaryResult
	err        error
	requests   []summaryRequest
}

func (m *mockSummarizer) MatchCommand(text string) (int, bool) {
	if !m.matched {
		return 0, false
	}
	return m.matchCount, true
}

func (m *mockSummarizer) Summarize(ctx context.Context, chatJID string, count int) (*models.SummaryResult, error) {
	m.requests = append(m.requests, summaryRequest{chatJID: chatJID, count: count})
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type fixture struct {
	processor *Processor
	answerer  *mockAnswerer
	replier   *mockReplier
	gateway   *gowa.MockClient
	own       *dedup.Tracker
	seen      *dedup.Tracker
	paths     *dedup.PathCache
}

func newFixture(opts ...Option) *fixture {
	own := dedup.NewTracker(time.Hour)
	seen := dedup.NewTracker(time.Hour)
	paths := dedup.NewPathCache(time.Hour)
	gateway := gowa.NewMockClient()
	answerer := &mockAnswerer{text: "the answer"}
	replier := &mockReplier{}
	media := NewMediaFetcher(gateway, paths)
	classifier := trigger.NewClassifier("", own)

	return &fixture{
		processor: NewProcessor(classifier, own, seen, media, answerer, replier, opts...),
		answerer:  answerer,
		replier:   replier,
		gateway:   gateway,
		own:       own,
		seen:      seen,
		paths:     paths,
	}
}

func textEvent(id, from, text string) *models.WebhookEvent {
	return &models.WebhookEvent{
		From:    from,
		Message: &models.WebhookMessage{ID: id, Text: text},
	}
}

func TestProcessNewQuery(t *testing.T) {
	f := newFixture()
	event := textEvent("msg-1", "628111@s.whatsapp.net", "hey akasha, what is the capital of France?")

	f.processor.Process(context.Background(), event)

	answers := f.answerer.answered()
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer call, got %d", len(answers))
	}
	if answers[0].query != "what is the capital of France?" {
		t.Errorf("unexpected query: %q", answers[0].query)
	}

	replies := f.replier.sent()
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if replies[0].to != "628111@s.whatsapp.net" || replies[0].body != "the answer" {
		t.Errorf("unexpected reply: %+v", replies[0])
	}
	if replies[0].replyTo != "msg-1" {
		t.Errorf("reply not threaded to triggering message: %+v", replies[0])
	}
	if replies[0].kind != models.MessageLogKindReply {
		t.Errorf("kind = %q, want %q", replies[0].kind, models.MessageLogKindReply)
	}

	if !f.seen.IsDuplicate("msg-1") {
		t.Error("expected event to be recorded as processed")
	}
}

func TestProcessIgnoresUntriggeredText(t *testing.T) {
	f := newFixture()
	event := textEvent("msg-1", "628111@s.whatsapp.net", "just chatting with friends")

	f.processor.Process(context.Background(), event)

	if len(f.answerer.answered()) != 0 {
		t.Error("expected no answer calls for untriggered message")
	}
	if len(f.replier.sent()) != 0 {
		t.Error("expected no replies for untriggered message")
	}
	if !f.seen.IsDuplicate("msg-1") {
		t.Error("expected untriggered event to still be recorded as processed")
	}
}

func TestProcessContinuation(t *testing.T) {
	f := newFixture()
	f.own.Record("bot-42")
	event := textEvent("msg-2", "628111@s.whatsapp.net", "tell me more about that")
	event.Message.RepliedID = "bot-42"
	event.Message.QuotedMessage = "Paris is the capital of France."

	f.processor.Process(context.Background(), event)

	answers := f.answerer.answered()
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer call, got %d", len(answers))
	}
	if answers[0].query != "tell me more about that" {
		t.Errorf("unexpected query: %q", answers[0].query)
	}
	if answers[0].quoted != "Paris is the capital of France." {
		t.Errorf("unexpected quoted context: %q", answers[0].quoted)
	}
	if answers[0].image != nil {
		t.Errorf("expected text-only continuation, got %d image bytes", len(answers[0].image))
	}
	if len(f.replier.apologized()) != 0 {
		t.Error("quoted media miss must not produce an apology")
	}
}

func TestProcessDuplicateEvent(t *testing.T) {
	f := newFixture()
	event := textEvent("msg-1", "628111@s.whatsapp.net", "hey akasha, hello")

	f.processor.Process(context.Background(), event)
	f.processor.Process(context.Background(), event)

	if got := len(f.answerer.answered()); got != 1 {
		t.Errorf("expected 1 answer call after replay, got %d", got)
	}
	if got := len(f.replier.sent()); got != 1 {
		t.Errorf("expected 1 reply after replay, got %d", got)
	}
}

func TestProcessSkipsOwnMessage(t *testing.T) {
	f := newFixture()
	f.own.Record("bot-1")
	event := textEvent("bot-1", "628999@s.whatsapp.net", "hey akasha, I am the bot")

	f.processor.Process(context.Background(), event)

	if len(f.answerer.answered()) != 0 {
		t.Error("expected own message to be skipped")
	}
	if len(f.replier.sent()) != 0 {
		t.Error("expected no reply to own message")
	}
}

func TestProcessRateLimited(t *testing.T) {
	f := newFixture(WithRateLimiter(ratelimit.NewLimiter(1, time.Minute)))

	f.processor.Process(context.Background(), textEvent("msg-1", "628111@s.whatsapp.net", "hey akasha, one"))
	f.processor.Process(context.Background(), textEvent("msg-2", "628111@s.whatsapp.net", "hey akasha, two"))

	if got := len(f.answerer.answered()); got != 1 {
		t.Errorf("expected 1 answer call, got %d", got)
	}
	if f.seen.IsDuplicate("msg-2") {
		t.Error("rate-limited event must not be recorded as processed")
	}
}

func TestProcessImageQuery(t *testing.T) {
	f := newFixture()
	f.gateway.MediaByPath["statics/media/img-1.jpg"] = []byte("jpeg-bytes")
	event := &models.WebhookEvent{
		From:     "628111@s.whatsapp.net",
		ID:       "img-1",
		FilePath: "statics/media/img-1.jpg",
		Image:    &models.MediaAttachment{Caption: "hey akasha, what is this?", MimeType: "image/jpeg"},
	}

	f.processor.Process(context.Background(), event)

	answers := f.answerer.answered()
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer call, got %d", len(answers))
	}
	if answers[0].query != "what is this?" {
		t.Errorf("unexpected query: %q", answers[0].query)
	}
	if string(answers[0].image) != "jpeg-bytes" {
		t.Errorf("unexpected image bytes: %q", answers[0].image)
	}
	if answers[0].mime != "image/jpeg" {
		t.Errorf("unexpected mime: %q", answers[0].mime)
	}

	replies := f.replier.sent()
	if len(replies) != 1 || replies[0].replyTo != "img-1" {
		t.Fatalf("expected 1 threaded reply, got %+v", replies)
	}
}

func TestProcessImageDownloadFailure(t *testing.T) {
	f := newFixture()
	event := &models.WebhookEvent{
		From:  "628111@s.whatsapp.net",
		ID:    "img-9",
		Image: &models.MediaAttachment{Caption: "hey akasha, describe this"},
	}

	f.processor.Process(context.Background(), event)

	if len(f.answerer.answered()) != 0 {
		t.Error("expected no answer call when download fails")
	}
	apologies := f.replier.apologized()
	if len(apologies) != 1 {
		t.Fatalf("expected 1 apology, got %d", len(apologies))
	}
	if !apologies[0].image {
		t.Error("expected image apology variant")
	}
	if apologies[0].replyTo != "img-9" {
		t.Errorf("apology not threaded: %+v", apologies[0])
	}
	var mediaErr *models.MediaFetchError
	if !errors.As(apologies[0].cause, &mediaErr) {
		t.Errorf("cause = %v, want MediaFetchError", apologies[0].cause)
	}
}

func TestProcessImageWithoutIdentifier(t *testing.T) {
	f := newFixture()
	event := &models.WebhookEvent{
		From:  "628111@s.whatsapp.net",
		Image: &models.MediaAttachment{Caption: "hey akasha, describe this"},
	}

	f.processor.Process(context.Background(), event)

	if len(f.answerer.answered()) != 0 || len(f.replier.sent()) != 0 || len(f.replier.apologized()) != 0 {
		t.Error("expected image without identifier to be dropped silently")
	}
}

func TestProcessCompletionFailure(t *testing.T) {
	f := newFixture()
	f.answerer.err = &models.ProviderExhaustedError{Attempts: []models.Attempt{
		{Provider: "gemini", CredentialIndex: 0, Kind: models.ErrorKindRateLimited},
	}}
	event := textEvent("msg-1", "628111@s.whatsapp.net", "hey akasha, hello")

	f.processor.Process(context.Background(), event)

	if len(f.replier.sent()) != 0 {
		t.Error("expected no reply when completion fails")
	}
	apologies := f.replier.apologized()
	if len(apologies) != 1 {
		t.Fatalf("expected 1 apology, got %d", len(apologies))
	}
	if apologies[0].image {
		t.Error("expected text apology variant")
	}
	if apologies[0].replyTo != "msg-1" {
		t.Errorf("apology not threaded: %+v", apologies[0])
	}
}

func TestProcessQuotedMediaForReply(t *testing.T) {
	f := newFixture()
	f.gateway.MediaByPath["statics/media/img-1.jpg"] = []byte("cat-photo")

	// An image arrives without a trigger; its path gets cached.
	f.processor.Process(context.Background(), &models.WebhookEvent{
		From:     "628111@s.whatsapp.net",
		ID:       "img-1",
		FilePath: "statics/media/img-1.jpg",
		Image:    &models.MediaAttachment{},
	})
	if len(f.answerer.answered()) != 0 {
		t.Fatal("captionless image must not trigger")
	}

	// A later text reply quoting it asks about the picture.
	event := textEvent("msg-2", "628111@s.whatsapp.net", "hey akasha, what breed is this cat?")
	event.Message.RepliedID = "img-1"

	f.processor.Process(context.Background(), event)

	answers := f.answerer.answered()
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer call, got %d", len(answers))
	}
	if string(answers[0].image) != "cat-photo" {
		t.Errorf("expected quoted media bytes, got %q", answers[0].image)
	}
}

func TestProcessSummaryCommand(t *testing.T) {
	summ := &mockSummarizer{
		matched:    true,
		matchCount: 5,
		result: &models.SummaryResult{
			Summary:          "They planned a trip.",
			MessagesAnalyzed: 5,
			Participants:     []string{"628111", "628222"},
		},
	}
	f := newFixture(WithSummarizer(summ))
	// Also a reply to the bot, so trigger classification would match too;
	// the command takes precedence.
	f.own.Record("bot-7")
	event := textEvent("msg-3", "628111:12@s.whatsapp.net", "akasha, summarize the previous 5 messages")
	event.Message.RepliedID = "bot-7"

	f.processor.Process(context.Background(), event)

	if len(f.answerer.answered()) != 0 {
		t.Error("summary command must not reach the answerer")
	}
	if len(summ.requests) != 1 {
		t.Fatalf("expected 1 summary request, got %d", len(summ.requests))
	}
	if summ.requests[0].chatJID != "628111@s.whatsapp.net" {
		t.Errorf("chat JID = %q, want device suffix stripped", summ.requests[0].chatJID)
	}
	if summ.requests[0].count != 5 {
		t.Errorf("count = %d, want 5", summ.requests[0].count)
	}

	replies := f.replier.sent()
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if replies[0].kind != models.MessageLogKindSummary {
		t.Errorf("kind = %q, want %q", replies[0].kind, models.MessageLogKindSummary)
	}
	if replies[0].body != "*Chat Summary* (5 messages)\n\nThey planned a trip.\n\n*Participants:* 628111, 628222" {
		t.Errorf("unexpected reply body: %q", replies[0].body)
	}
}

func TestProcessSummaryFailure(t *testing.T) {
	summ := &mockSummarizer{matched: true, matchCount: 5, err: errors.New("history fetch failed")}
	f := newFixture(WithSummarizer(summ))
	event := textEvent("msg-3", "628111@s.whatsapp.net", "akasha, summarize the previous 5 messages")

	f.processor.Process(context.Background(), event)

	if len(f.replier.sent()) != 0 {
		t.Error("expected no reply when summary fails")
	}
	if len(f.replier.apologized()) != 1 {
		t.Error("expected an apology when summary fails")
	}
}

func TestProcessReactionSkipped(t *testing.T) {
	f := newFixture()
	event := &models.WebhookEvent{
		From:     "628111@s.whatsapp.net",
		Reaction: &models.WebhookReaction{Message: "👍", ID: "react-1"},
	}

	f.processor.Process(context.Background(), event)

	if len(f.answerer.answered()) != 0 || len(f.replier.sent()) != 0 {
		t.Error("expected reaction to be skipped")
	}
}

func TestProcessCachesMediaPath(t *testing.T) {
	f := newFixture()
	f.processor.Process(context.Background(), &models.WebhookEvent{
		From:     "628111@s.whatsapp.net",
		ID:       "img-5",
		FilePath: "statics/media/img-5.jpg",
		Video:    &models.MediaAttachment{MimeType: "video/mp4"},
	})

	path, ok := f.paths.Get("img-5")
	if !ok || path != "statics/media/img-5.jpg" {
		t.Errorf("expected cached path for img-5, got %q (%v)", path, ok)
	}
}

func TestProcessGroupReply(t *testing.T) {
	f := newFixture()
	event := textEvent("msg-1", "628111@s.whatsapp.net in 120363@g.us", "hey akasha, hello group")

	f.processor.Process(context.Background(), event)

	replies := f.replier.sent()
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if replies[0].to != "120363@g.us" {
		t.Errorf("group reply sent to %q, want the group JID", replies[0].to)
	}
}

func TestHandleAsync(t *testing.T) {
	f := newFixture()
	f.processor.HandleAsync(textEvent("msg-1", "628111@s.whatsapp.net", "hey akasha, hello"))
	f.processor.Wait()

	if got := len(f.replier.sent()); got != 1 {
		t.Errorf("expected 1 reply after Wait, got %d", got)
	}
}
