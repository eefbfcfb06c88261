package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	titleSources = []struct {
		selector string
		attr     string
	}{
		{`meta[property="og:title"]`, "content"},
		{`meta[name="twitter:title"]`, "content"},
		{"title", ""},
		{"h1", ""},
	}
	descriptionSelectors = []string{
		`meta[name="description"]`,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
	}
	authorSelectors = []string{
		`meta[name="author"]`,
		`meta[property="article:author"]`,
		".author",
		".byline",
	}
	dateSelectors = []string{
		`meta[property="article:published_time"]`,
		`meta[name="publication_date"]`,
		"time[datetime]",
		".published",
		".date",
	}
)

func extractTitle(doc *goquery.Document, sourceURL string) string {
	for _, src := range titleSources {
		s := doc.Find(src.selector).First()
		if s.Length() == 0 {
			continue
		}
		var title string
		if src.attr != "" {
			title = s.AttrOr(src.attr, "")
		} else {
			title = s.Text()
		}
		if title = Clean(title); title != "" {
			return title
		}
	}
	return TitleFromURL(sourceURL)
}

func extractDescription(doc *goquery.Document) string {
	for _, sel := range descriptionSelectors {
		if desc := Clean(doc.Find(sel).First().AttrOr("content", "")); desc != "" {
			return desc
		}
	}
	return ""
}

// elementValue 返回 meta 的 content、time 的 datetime（为空时取文本），其他元素取文本。
func elementValue(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "meta":
		return s.AttrOr("content", "")
	case "time":
		if dt := s.AttrOr("datetime", ""); dt != "" {
			return dt
		}
		return s.Text()
	default:
		return s.Text()
	}
}

func firstValue(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if v := Clean(elementValue(s)); v != "" {
			return v
		}
	}
	return ""
}

// extractMetadata 收集 og:*、twitter:*、作者、发布日期和页面语言。
// 需要在去除噪声元素之前调用。
func extractMetadata(doc *goquery.Document, sourceURL string) map[string]string {
	meta := map[string]string{"url": sourceURL}

	doc.Find(`meta[property^="og:"]`).Each(func(_ int, s *goquery.Selection) {
		prop := strings.TrimPrefix(s.AttrOr("property", ""), "og:")
		if content := s.AttrOr("content", ""); prop != "" && content != "" {
			meta["og_"+prop] = content
		}
	})
	doc.Find(`meta[name^="twitter:"]`).Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimPrefix(s.AttrOr("name", ""), "twitter:")
		if content := s.AttrOr("content", ""); name != "" && content != "" {
			meta["twitter_"+name] = content
		}
	})

	if author := firstValue(doc, authorSelectors); author != "" {
		meta["author"] = author
	}
	if date := firstValue(doc, dateSelectors); date != "" {
		meta["published_date"] = date
	}
	if lang := strings.TrimSpace(doc.Find("html").First().AttrOr("lang", "")); lang != "" {
		meta["language"] = lang
	}
	return meta
}
