package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	boilerplateLine = regexp.MustCompile(`(?im)^\s*(cookie\s+policy|privacy\s+policy|subscribe).*$`)
	whitespace      = regexp.MustCompile(`\s+`)
	urlSeparators   = regexp.MustCompile(`[-_/]`)
	titleCaser      = cases.Title(language.Und)
)

// Clean 规范化文本：先删除 cookie/隐私政策/订阅等样板行，再把连续空白折叠为单个空格并去除首尾空白。
// 纯函数。
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = boilerplateLine.ReplaceAllString(text, "")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// TitleFromURL 由 URL 推导标题：优先使用路径（去掉扩展名，分隔符转为空格，单词首字母大写），
// 路径为空时使用去掉 www. 的域名。
func TitleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "Untitled"
	}
	path := strings.Trim(u.Path, "/")
	if path != "" {
		if i := strings.LastIndex(path, "."); i >= 0 {
			path = path[:i]
		}
		words := strings.Fields(urlSeparators.ReplaceAllString(path, " "))
		if len(words) > 0 {
			return titleCaser.String(strings.Join(words, " "))
		}
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if host == "" {
		return "Untitled"
	}
	return titleCaser.String(strings.ReplaceAll(host, ".", " "))
}
