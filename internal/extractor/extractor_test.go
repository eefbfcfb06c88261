package extractor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgelink-go/internal/model"
)

const articleHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Plain Title</title>
  <meta property="og:title" content="Graph Title">
  <meta property="og:site_name" content="Example Blog">
  <meta name="twitter:title" content="Card Title">
  <meta name="twitter:card" content="summary">
  <meta name="description" content="  A   short description. ">
  <meta name="author" content="Jane Doe">
  <meta property="article:published_time" content="2024-01-02T03:04:05Z">
  <script>var tracking = "should never appear";</script>
</head>
<body>
  <nav><a href="/">Home</a><a href="/about">About</a></nav>
  <article>
    <h1>Heading</h1>
    <p>` + longParagraph + `</p>
    <p>` + longParagraph + `</p>
  </article>
  <footer>Copyright footer</footer>
</body>
</html>`

const longParagraph = "Vector databases store embeddings so that semantically similar passages can be retrieved " +
	"without exact keyword overlap. Each passage is split into chunks, embedded, and compared with cosine similarity " +
	"against the embedding of the user query. The best matching chunks are grouped by document and ranked."

func TestExtract_HTML(t *testing.T) {
	res := New().Extract(context.Background(), []byte(articleHTML), "text/html; charset=utf-8", "https://example.com/posts/vectors")

	assert.Equal(t, model.KindHTML, res.Kind)
	assert.Equal(t, "Graph Title", res.Title)
	assert.Equal(t, "A short description.", res.Description)
	assert.Contains(t, res.Text, "Vector databases store embeddings")
	assert.NotContains(t, res.Text, "should never appear")
	assert.Equal(t, len(strings.Fields(res.Text)), res.WordCount)

	assert.Equal(t, "https://example.com/posts/vectors", res.Metadata["url"])
	assert.Equal(t, "Graph Title", res.Metadata["og_title"])
	assert.Equal(t, "Example Blog", res.Metadata["og_site_name"])
	assert.Equal(t, "Card Title", res.Metadata["twitter_title"])
	assert.Equal(t, "summary", res.Metadata["twitter_card"])
	assert.Equal(t, "Jane Doe", res.Metadata["author"])
	assert.Equal(t, "2024-01-02T03:04:05Z", res.Metadata["published_date"])
	assert.Equal(t, "en", res.Metadata["language"])
}

func TestExtractTitle_Chain(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"og", `<meta property="og:title" content="OG"><meta name="twitter:title" content="TW"><title>T</title>`, "OG"},
		{"twitter", `<meta name="twitter:title" content="TW"><title>T</title>`, "TW"},
		{"title tag", `<title> The   Title </title><h1>H</h1>`, "The Title"},
		{"h1", `<body><h1>Only Heading</h1></body>`, "Only Heading"},
		{"empty og falls through", `<meta property="og:title" content=" "><title>T</title>`, "T"},
		{"url slug", `<body><p>x</p></body>`, "Guides Getting Started"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.want, extractTitle(doc, "https://example.com/guides/getting-started.html"))
		})
	}
}

func TestExtractDescription_Chain(t *testing.T) {
	tests := []struct {
		html string
		want string
	}{
		{`<meta name="description" content="D"><meta property="og:description" content="OG">`, "D"},
		{`<meta property="og:description" content="OG"><meta name="twitter:description" content="TW">`, "OG"},
		{`<meta name="twitter:description" content="TW">`, "TW"},
		{`<title>none</title>`, ""},
	}
	for _, tt := range tests {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
		require.NoError(t, err)
		assert.Equal(t, tt.want, extractDescription(doc))
	}
}

func TestExtractMetadata_AuthorAndDateFallbacks(t *testing.T) {
	html := `<html><body>
		<span class="byline">  By   Someone </span>
		<time datetime="2023-05-06">May 6</time>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	meta := extractMetadata(doc, "https://example.com")
	assert.Equal(t, "By Someone", meta["author"])
	assert.Equal(t, "2023-05-06", meta["published_date"])
	_, hasLang := meta["language"]
	assert.False(t, hasLang)
}

func TestFallbackContent(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"main wins", `<body><nav>menu</nav><main>Main   text</main><article>Article</article></body>`, "Main text"},
		{"class selector", `<body><div class="post-content">Post body</div><footer>f</footer></body>`, "Post body"},
		{"body", `<body><script>x()</script><div>Just body</div></body>`, "Just body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.want, fallbackContent(doc))
		})
	}
}

func TestExtract_NonHTMLTruncated(t *testing.T) {
	payload := strings.Repeat("word ", 3000) // 15000 字节
	res := New().Extract(context.Background(), []byte(payload), "text/plain", "https://example.com/notes/todo.txt")

	assert.Equal(t, model.KindText, res.Kind)
	assert.Len(t, res.Text, MaxRawBytes)
	assert.Equal(t, 3000, res.WordCount)
	assert.Equal(t, "Notes Todo", res.Title)
	assert.Empty(t, res.Description)
}

func TestTruncateBytes_KeepsRunesIntact(t *testing.T) {
	s := truncateBytes([]byte("ab向量"), 4) // "向" 占 3 字节，截断后不能留下半个字符
	assert.Equal(t, "ab", s)
	assert.Equal(t, "abc", truncateBytes([]byte("abc"), 10))
}

type fakeConverter struct {
	text string
	err  error
}

func (f fakeConverter) ExtractText(_ context.Context, _ io.Reader, _ string) (string, error) {
	return f.text, f.err
}

func TestExtract_PDF(t *testing.T) {
	raw := []byte("%PDF-1.4 binary")

	res := New(WithConverter(fakeConverter{text: "Extracted   pdf text"})).
		Extract(context.Background(), raw, "application/pdf", "https://example.com/paper.pdf")
	assert.Equal(t, model.KindPDF, res.Kind)
	assert.Equal(t, "Extracted pdf text", res.Text)
	assert.Equal(t, 3, res.WordCount)

	res = New(WithConverter(fakeConverter{err: errors.New("tika down")})).
		Extract(context.Background(), raw, "application/pdf", "https://example.com/paper.pdf")
	assert.Equal(t, model.KindPDF, res.Kind)
	assert.Equal(t, string(raw), res.Text)
}

func TestDetectKind(t *testing.T) {
	tests := map[string]model.ContentKind{
		"text/html; charset=UTF-8": model.KindHTML,
		"application/pdf":          model.KindPDF,
		"text/plain":               model.KindText,
		"application/json":         model.KindJSON,
		"text/markdown":            model.KindMarkdown,
		"text/x-markdown":          model.KindMarkdown,
		"image/png":                model.KindUnknown,
		"":                         model.KindUnknown,
	}
	for ct, want := range tests {
		assert.Equal(t, want, DetectKind(ct), ct)
	}
}

func TestFailedResult(t *testing.T) {
	res := FailedResult("https://unreachable.invalid/page", errors.New("dial tcp: no such host"))
	assert.False(t, res.HasText())
	assert.Equal(t, model.KindUnknown, res.Kind)
	assert.Equal(t, "dial tcp: no such host", res.Metadata["error"])
	assert.Equal(t, "https://unreachable.invalid/page", res.Metadata["url"])
}

func TestClean(t *testing.T) {
	in := "Cookie policy: we use cookies\nReal   text\n\tmore\nsubscribe now for updates"
	assert.Equal(t, "Real text more", Clean(in))
	assert.Equal(t, "", Clean("   "))
	assert.Equal(t, "Intro", Clean("Intro\nPRIVACY POLICY line"))
}

func TestTitleFromURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/blog/my-first_post.html": "Blog My First Post",
		"https://www.example.com/":                    "Example Com",
		"https://docs.example.org":                    "Docs Example Org",
		"::not a url":                                 "Untitled",
	}
	for in, want := range tests {
		assert.Equal(t, want, TitleFromURL(in), in)
	}
}
