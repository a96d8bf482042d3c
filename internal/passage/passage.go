// Package passage generates HSK 3-4 Mandarin reading passages and broadcasts
// them to configured recipients.
//
// Topics come from three places: an explicit topic (manual generation), a
// web-search topic picked from today's news, or the model's free choice. The
// daily broadcast is idempotent per calendar date: the store's send ledger
// remembers which recipients already received today's passage, so a restart
// or manual re-trigger never double-sends.
package passage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/Akasha/internal/models"
	"github.com/BTreeMap/Akasha/internal/store"
	"github.com/BTreeMap/Akasha/internal/websearch"
)

// Topic selection modes.
const (
	// TopicModeFree lets the model choose its own topic.
	TopicModeFree = "free"
	// TopicModeWebSearch picks a topic from today's news via web search.
	TopicModeWebSearch = "web_search"
)

// Generation tuning.
const (
	// passageTemperature is used for passage generation.
	passageTemperature = 0.9
	// topicTemperature is used for the topic-selection completion.
	topicTemperature = 0.7
	// topicSearchQuery finds today's news for topic selection.
	topicSearchQuery = "今日新闻 有趣的话题"
	// topicSearchResults is how many hits the topic search requests.
	topicSearchResults = 3
	// maxTopicSourceChars caps the page content handed to topic selection.
	maxTopicSourceChars = 2000
	// DefaultMaxConcurrentSends bounds parallel broadcast sends.
	DefaultMaxConcurrentSends = 5
)

// passageHeader opens every broadcast message, in WhatsApp bold markup.
const passageHeader = "*每日中文阅读*"

// Display topics for generated passages.
const (
	freeTopicDisplay         = "自由话题"
	searchFailedTopicDisplay = "自由话题 (搜索失败)"
	webTopicDisplayPrefix    = "网络话题: "
)

const systemInstruction = `你是一位专业的中文教育专家, 专门为中级学习者 (HSK 3-4级) 编写阅读材料。

规则:
1. 只使用HSK 3-4级的词汇和语法
2. 只输出汉字, 不要拼音, 不要英文翻译
3. 文章长度: 300-500个汉字 (这是硬性要求, 必须写完整)
4. 使用简体中文
5. 内容要有趣、实用、贴近生活
6. 文章结构清晰, 有开头、中间、结尾
7. 可以适当使用一些HSK 5级的简单词汇, 但要确保整体难度适中
8. 不要在文章末尾添加任何注释、词汇表或翻译
9. 不要添加标题
10. 必须写完整篇文章, 不要中途停止`

const webSearchSystemInstruction = `你是一位专业的中文教育专家, 专门为中级学习者 (HSK 3-4级) 编写阅读材料。

特别注意: 你将根据今天的新闻/时事热点来生成文章, 所以话题可能与日常生活不同, 但难度必须保持在HSK 3-4级。

规则:
1. 只使用HSK 3-4级的词汇和语法
2. 只输出汉字, 不要拼音, 不要英文翻译
3. 文章长度: 300-500个汉字 (这是硬性要求, 必须写完整)
4. 使用简体中文
5. 基于提供的新闻/时事热点内容选择有趣话题
6. 内容要有趣、实用、贴近生活
7. 文章结构清晰, 有开头、中间、结尾
8. 可以适当使用一些HSK 5级的简单词汇, 但要确保整体难度适中
9. 不要在文章末尾添加任何注释、词汇表或翻译
10. 不要添加标题
11. 必须写完整篇文章, 不要中途停止
12. 根据提供的新闻内容调整生成的文章, 不要抄袭原文`

const freeTopicPrompt = `请自由选择一个有趣的话题, 写一篇短文。话题可以是任何内容, 比如: 日常生活、旅行经历、美食、科技、文化、自然、人际关系、工作学习、兴趣爱好等等。`

const promptRequirements = `

要求:
- 适合HSK 3-4级学习者阅读
- 只用汉字, 不要拼音
- 300-500个汉字 (必须写完整)
- 内容有趣、实用
- 文章要有完整的开头、中间和结尾

直接输出文章内容, 不要任何标题或额外说明。`

const topicSelectionPromptFmt = `基于以下新闻/网页内容, 选择一个适合HSK 3-4级学习者阅读的有趣话题。

内容:
%s

要求:
1. 只输出话题名称, 不要其他文字
2. 话题要具体、有趣
3. 话题要适合用300-500个汉字写短文
4. 话题应该来源于提供的新闻内容

直接输出话题名称。`

// TextGenerator produces one plain completion for a system+prompt pair.
// *genai.Orchestrator satisfies it.
type TextGenerator interface {
	GenerateText(ctx context.Context, system, prompt string, temperature float64) (*models.Completion, error)
}

// TopicSearcher finds news pages for web-search topic selection.
// *websearch.Client satisfies it.
type TopicSearcher interface {
	Search(ctx context.Context, query string, numResults int) []websearch.Result
	FetchPageText(ctx context.Context, pageURL string) string
	Configured() bool
}

// Sender delivers one outbound message. *messaging.Dispatcher satisfies it.
type Sender interface {
	Send(ctx context.Context, to, body string, kind models.MessageLogKind) (string, error)
}

// Opts holds configuration options for the generator.
type Opts struct {
	Recipients         []string
	TopicMode          string
	MaxConcurrentSends int
	Location           *time.Location
}

// Option defines a configuration option for the generator.
type Option func(*Opts)

// WithRecipients sets the broadcast recipient list.
func WithRecipients(recipients []string) Option {
	return func(o *Opts) { o.Recipients = recipients }
}

// WithTopicMode selects how daily topics are chosen (TopicModeFree or
// TopicModeWebSearch).
func WithTopicMode(mode string) Option {
	return func(o *Opts) { o.TopicMode = mode }
}

// WithMaxConcurrentSends bounds the parallel sends of one broadcast.
func WithMaxConcurrentSends(n int) Option {
	return func(o *Opts) { o.MaxConcurrentSends = n }
}

// WithLocation sets the timezone used for daily date keys.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// Generator produces Mandarin passages and runs the daily broadcast.
type Generator struct {
	gen           TextGenerator
	search        TopicSearcher
	sender        Sender
	store         store.Store
	recipients    []string
	topicMode     string
	maxConcurrent int
	loc           *time.Location
	now           func() time.Time
}

// NewGenerator creates a passage generator. search may be nil when no search
// credentials are configured; the generator then always falls back to free
// topics.
func NewGenerator(gen TextGenerator, search TopicSearcher, sender Sender, st store.Store, opts ...Option) *Generator {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TopicMode == "" {
		cfg.TopicMode = TopicModeFree
	}
	if cfg.MaxConcurrentSends <= 0 {
		cfg.MaxConcurrentSends = DefaultMaxConcurrentSends
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Generator{
		gen:           gen,
		search:        search,
		sender:        sender,
		store:         st,
		recipients:    cfg.Recipients,
		topicMode:     cfg.TopicMode,
		maxConcurrent: cfg.MaxConcurrentSends,
		loc:           cfg.Location,
		now:           time.Now,
	}
}

// Recipients returns the configured broadcast recipients.
func (g *Generator) Recipients() []string {
	return g.recipients
}

// FormatMessage renders passage content as the WhatsApp broadcast message.
func FormatMessage(content string) string {
	return passageHeader + "\n\n" + content
}

// Generate produces one passage. An explicit topic pins the subject;
// otherwise the configured topic mode decides. The passage is persisted
// before returning; persistence failures are logged but do not block the
// caller, who already holds the content.
func (g *Generator) Generate(ctx context.Context, topic string) (*models.Passage, error) {
	var prompt, displayTopic, system string
	switch {
	case topic != "":
		prompt = topicPrompt(topic)
		displayTopic = topic
		system = systemInstruction
	case g.topicMode == TopicModeWebSearch:
		selected := g.selectTopicViaSearch(ctx)
		if selected != "" {
			prompt = topicPrompt(selected)
			displayTopic = webTopicDisplayPrefix + selected
			system = webSearchSystemInstruction
		} else {
			slog.Warn("PassageGenerator web search topic selection failed, falling back to free topic")
			prompt = freeTopicPrompt
			displayTopic = searchFailedTopicDisplay
			system = systemInstruction
		}
	default:
		prompt = freeTopicPrompt
		displayTopic = freeTopicDisplay
		system = systemInstruction
	}
	prompt += promptRequirements

	completion, err := g.gen.GenerateText(ctx, system, prompt, passageTemperature)
	if err != nil {
		return nil, fmt.Errorf("passage generation failed: %w", err)
	}
	content := strings.TrimSpace(completion.Text)

	p := &models.Passage{
		ID:        uuid.New().String(),
		Date:      g.today(),
		Topic:     displayTopic,
		Content:   content,
		CreatedAt: g.now(),
	}
	if g.store != nil {
		if err := g.store.SavePassage(*p); err != nil {
			slog.Error("PassageGenerator failed to persist passage", "error", err, "date", p.Date)
		}
	}

	slog.Info("PassageGenerator generated passage",
		"topic", displayTopic, "chars", len([]rune(content)), "mode", g.topicMode)
	return p, nil
}

// selectTopicViaSearch searches today's news and asks the model to pick a
// topic from the top hit. Returns "" when search is unavailable, finds
// nothing, or the selection completion fails; the caller falls back to a
// free topic.
func (g *Generator) selectTopicViaSearch(ctx context.Context) string {
	if g.search == nil || !g.search.Configured() {
		slog.Warn("PassageGenerator web search not configured")
		return ""
	}

	slog.Info("PassageGenerator searching for topics", "query", topicSearchQuery)
	results := g.search.Search(ctx, topicSearchQuery, topicSearchResults)
	if len(results) == 0 {
		slog.Warn("PassageGenerator web search returned no results")
		return ""
	}

	top := results[0]
	slog.Info("PassageGenerator fetching topic source", "title", top.Title)
	content := g.search.FetchPageText(ctx, top.Link)
	if runes := []rune(content); len(runes) > maxTopicSourceChars {
		content = string(runes[:maxTopicSourceChars])
	}
	if content == "" {
		slog.Warn("PassageGenerator failed to fetch page content, using snippet", "url", top.Link)
		content = top.Snippet
	}

	completion, err := g.gen.GenerateText(ctx, "", fmt.Sprintf(topicSelectionPromptFmt, content), topicTemperature)
	if err != nil {
		slog.Warn("PassageGenerator topic selection completion failed", "error", err)
		return ""
	}
	selected := strings.TrimSpace(completion.Text)
	slog.Info("PassageGenerator selected topic via web search", "topic", selected)
	return selected
}

// SendDaily generates today's passage and broadcasts it to every configured
// recipient not yet recorded in the send ledger for today's date. Successful
// sends are recorded so retries and restarts skip them.
func (g *Generator) SendDaily(ctx context.Context) error {
	slog.Info("PassageGenerator starting daily passage broadcast")

	if len(g.recipients) == 0 {
		slog.Warn("PassageGenerator no recipients configured, skipping daily passage")
		return nil
	}

	dateKey := g.today()
	var pending []string
	alreadySent := 0
	for _, r := range g.recipients {
		sent, err := g.store.PassageSentTo(dateKey, r)
		if err != nil {
			slog.Error("PassageGenerator send ledger check failed, skipping recipient this run",
				"error", err, "recipient", r)
			continue
		}
		if sent {
			alreadySent++
			continue
		}
		pending = append(pending, r)
	}

	if len(pending) == 0 {
		slog.Info("PassageGenerator all recipients already received today's passage", "date", dateKey)
		return nil
	}
	if alreadySent > 0 {
		slog.Info("PassageGenerator resuming broadcast", "already_sent", alreadySent, "pending", len(pending))
	}

	p, err := g.Generate(ctx, "")
	if err != nil {
		return err
	}

	sentTo := g.broadcast(ctx, FormatMessage(p.Content), pending, dateKey)

	slog.Info("PassageGenerator daily passage completed",
		"sent", alreadySent+len(sentTo), "total", len(g.recipients), "topic", p.Topic)
	return nil
}

// Broadcast sends an already generated passage to the given recipients,
// bypassing the daily ledger. Manual generation uses this path: an explicit
// request always delivers. Returns the recipients that were sent
// successfully.
func (g *Generator) Broadcast(ctx context.Context, p *models.Passage, recipients []string) []string {
	return g.broadcast(ctx, FormatMessage(p.Content), recipients, "")
}

// broadcast fans the message out with bounded parallelism. A non-empty
// dateKey records each successful send in the ledger. Individual failures
// are logged and do not stop the rest of the fan-out.
func (g *Generator) broadcast(ctx context.Context, message string, recipients []string, dateKey string) []string {
	var eg errgroup.Group
	eg.SetLimit(g.maxConcurrent)

	var mu sync.Mutex
	var sentTo, failed []string

	for _, r := range recipients {
		r := r
		eg.Go(func() error {
			if _, err := g.sender.Send(ctx, r, message, models.MessageLogKindPassage); err != nil {
				slog.Error("PassageGenerator failed to send passage", "error", err, "recipient", r)
				mu.Lock()
				failed = append(failed, r)
				mu.Unlock()
				return nil
			}
			if dateKey != "" {
				if _, err := g.store.RecordPassageSend(dateKey, r); err != nil {
					slog.Error("PassageGenerator failed to record passage send", "error", err, "recipient", r)
				}
			}
			mu.Lock()
			sentTo = append(sentTo, r)
			mu.Unlock()
			slog.Info("PassageGenerator passage sent", "recipient", r)
			return nil
		})
	}
	eg.Wait()

	if len(failed) > 0 {
		slog.Warn("PassageGenerator some sends failed", "recipients", failed)
	}
	return sentTo
}

// today returns the current date key in the generator's timezone.
func (g *Generator) today() string {
	return g.now().In(g.loc).Format("2006-01-02")
}

func topicPrompt(topic string) string {
	return fmt.Sprintf(`请写一篇关于"%s"的短文。`, topic)
}
