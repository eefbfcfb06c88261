// Package extractor 把抓取到的原始字节转换为规范化的纯文本和结构化元数据。
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"

	"knowledgelink-go/internal/model"
	"knowledgelink-go/pkg/log"
)

// MaxRawBytes 是非 HTML 内容保留的最大字节数。
const MaxRawBytes = 10000

// 正文兜底选择器，按顺序尝试。
var contentSelectors = []string{
	"main",
	"article",
	".content",
	".post-content",
	".entry-content",
	".article-content",
	".post-body",
	".content-body",
}

const noiseSelector = "script, style, nav, header, footer, aside, form"

// Result 是一次提取的结果。Text 为空表示没有可用正文。
type Result struct {
	Title       string
	Description string
	Text        string
	Kind        model.ContentKind
	WordCount   int
	Metadata    map[string]string
}

// HasText 报告是否提取到了正文。
func (r Result) HasText() bool {
	return r.Text != ""
}

// TextConverter 把二进制文档（PDF）转换为文本，通常由 Tika 提供。
type TextConverter interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Extractor 无状态，可并发使用。
type Extractor struct {
	converter TextConverter
}

type Option func(*Extractor)

// WithConverter 启用 PDF 文本转换；未配置时 PDF 与其他非 HTML 内容一样按原始字节截断。
func WithConverter(c TextConverter) Option {
	return func(e *Extractor) { e.converter = c }
}

func New(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract 不会返回错误：任何解析失败都会得到一个 Kind 为 unknown、
// metadata 中带 error 的结果，由调用方决定是否重试。
func (e *Extractor) Extract(ctx context.Context, raw []byte, contentType, sourceURL string) Result {
	kind := DetectKind(contentType)
	switch kind {
	case model.KindHTML:
		res, err := e.extractHTML(raw, contentType, sourceURL)
		if err != nil {
			log.Warnw("[Extractor] HTML 解析失败", "url", sourceURL, "error", err)
			return FailedResult(sourceURL, err)
		}
		return res
	case model.KindPDF:
		if e.converter != nil {
			text, err := e.converter.ExtractText(ctx, bytes.NewReader(raw), fileNameFromURL(sourceURL))
			if err == nil && strings.TrimSpace(text) != "" {
				clean := Clean(text)
				return Result{
					Title:     TitleFromURL(sourceURL),
					Text:      clean,
					Kind:      kind,
					WordCount: len(strings.Fields(clean)),
					Metadata:  map[string]string{"url": sourceURL, "content_type": contentType, "converter": "tika"},
				}
			}
			log.Warnw("[Extractor] PDF 文本转换失败，按原始内容处理", "url", sourceURL, "error", err)
		}
	}
	return rawResult(raw, kind, contentType, sourceURL)
}

// FailedResult 构造抓取或解析失败时的结果。
func FailedResult(sourceURL string, err error) Result {
	return Result{
		Title:    TitleFromURL(sourceURL),
		Kind:     model.KindUnknown,
		Metadata: map[string]string{"url": sourceURL, "error": err.Error()},
	}
}

// DetectKind 根据 Content-Type 头推断内容类型。
func DetectKind(contentType string) model.ContentKind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/html"):
		return model.KindHTML
	case strings.Contains(ct, "application/pdf"):
		return model.KindPDF
	case strings.Contains(ct, "text/plain"):
		return model.KindText
	case strings.Contains(ct, "application/json"):
		return model.KindJSON
	case strings.Contains(ct, "text/markdown"), strings.Contains(ct, "text/x-markdown"):
		return model.KindMarkdown
	default:
		return model.KindUnknown
	}
}

func rawResult(raw []byte, kind model.ContentKind, contentType, sourceURL string) Result {
	return Result{
		Title:     TitleFromURL(sourceURL),
		Text:      truncateBytes(raw, MaxRawBytes),
		Kind:      kind,
		WordCount: len(bytes.Fields(raw)),
		Metadata:  map[string]string{"url": sourceURL, "content_type": contentType},
	}
}

// truncateBytes 截断到至多 limit 字节，不切断 UTF-8 字符。
func truncateBytes(raw []byte, limit int) string {
	if len(raw) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		raw = raw[:cut]
	}
	return strings.ToValidUTF8(string(raw), "")
}

func (e *Extractor) extractHTML(raw []byte, contentType, sourceURL string) (Result, error) {
	utf8Raw, err := toUTF8(raw, contentType)
	if err != nil {
		return Result{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8Raw))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}

	res := Result{
		Title:       extractTitle(doc, sourceURL),
		Description: extractDescription(doc),
		Kind:        model.KindHTML,
		Metadata:    extractMetadata(doc, sourceURL),
	}

	text := mainContent(utf8Raw, sourceURL)
	if text == "" {
		text = fallbackContent(doc)
	}
	res.Text = text
	res.WordCount = len(strings.Fields(text))
	return res, nil
}

func toUTF8(raw []byte, contentType string) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		// 无法识别的编码按原样处理
		return raw, nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	return out, nil
}

// mainContent 使用 readability 提取主体内容，失败时返回空串。
func mainContent(raw []byte, sourceURL string) (text string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnw("[Extractor] readability panic", "url", sourceURL, "panic", r)
			text = ""
		}
	}()

	pageURL, err := url.Parse(sourceURL)
	if err != nil {
		pageURL = &url.URL{}
	}
	article, err := readability.FromReader(bytes.NewReader(raw), pageURL)
	if err != nil {
		log.Debugf("[Extractor] readability 失败, url: %s, error: %v", sourceURL, err)
		return ""
	}
	return Clean(article.TextContent)
}

// fallbackContent 去除噪声元素后按选择器、body、整个文档的顺序取文本。
func fallbackContent(doc *goquery.Document) string {
	doc.Find(noiseSelector).Remove()
	for _, sel := range contentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return Clean(s.Text())
		}
	}
	if body := doc.Find("body"); body.Length() > 0 {
		if text := Clean(body.Text()); text != "" {
			return text
		}
	}
	return Clean(doc.Text())
}

func fileNameFromURL(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Path == "" {
		return "document.pdf"
	}
	name := u.Path[strings.LastIndex(u.Path, "/")+1:]
	if name == "" {
		return "document.pdf"
	}
	return name
}
