// Package llm provides the summarizer used to fill in link summaries and titles.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"knowledgelink-go/internal/config"
	"knowledgelink-go/pkg/log"
)

const (
	SummaryMaxWords  = 300
	summaryInputMax  = 10000
	TitleMaxWords    = 10
	titleInputMax    = 2000
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 500
)

var errEmptyCompletion = errors.New("completion returned no content")

// Completer 是一次无状态的文本补全调用。
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Summarizer 生成摘要与标题。和 embedding 网关一样，任何失败都返回空串并记录日志。
type Summarizer struct {
	completer Completer
	timeout   time.Duration
	limiter   *rate.Limiter
}

// NewSummarizer completer 为 nil 时 Summarizer 处于禁用状态。
func NewSummarizer(completer Completer, timeout time.Duration, perSecond float64) *Summarizer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := &Summarizer{completer: completer, timeout: timeout}
	if perSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return s
}

// NewFromConfig 缺少 API Key 时返回禁用的 Summarizer。
func NewFromConfig(cfg config.LLMConfig) *Summarizer {
	var completer Completer
	if cfg.APIKey != "" {
		completer = NewOpenAICompleter(cfg)
	} else {
		log.Warnf("[LLM] 未配置 llm.api_key，摘要与标题生成已禁用")
	}
	return NewSummarizer(completer, cfg.Timeout, cfg.RateLimit)
}

func (s *Summarizer) Enabled() bool { return s != nil && s.completer != nil }

// Summarize 返回不超过 300 词的摘要，基于前 10000 个字符。
func (s *Summarizer) Summarize(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" || !s.Enabled() {
		return ""
	}
	prompt := fmt.Sprintf(`Please provide a concise summary of the following text in no more than %d words.
Focus on the main points and key information.

Text:
%s

Summary:`, SummaryMaxWords, truncateRunes(text, summaryInputMax))

	out, err := s.complete(ctx, prompt)
	if err != nil {
		log.Warnw("[LLM] 生成摘要失败", "error", err)
		return ""
	}
	return out
}

// GenerateTitle 基于前 2000 个字符生成不超过 10 个词的标题，去掉首尾引号。
func (s *Summarizer) GenerateTitle(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" || !s.Enabled() {
		return ""
	}
	prompt := fmt.Sprintf(`Generate a short, descriptive title (max %d words) for the following content:

%s

Title:`, TitleMaxWords, truncateRunes(text, titleInputMax))

	out, err := s.complete(ctx, prompt)
	if err != nil {
		log.Warnw("[LLM] 生成标题失败", "error", err)
		return ""
	}
	return strings.TrimSpace(strings.Trim(out, `"'`))
}

func (s *Summarizer) complete(ctx context.Context, prompt string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	if out = strings.TrimSpace(out); out == "" {
		return "", errEmptyCompletion
	}
	return out, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// openAICompleter 调用 OpenAI 兼容的 chat completions 接口。
type openAICompleter struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewOpenAICompleter(cfg config.LLMConfig) Completer {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &openAICompleter{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

func (c *openAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(int64(c.maxTokens)),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
