// Package chunker 将长文本切分为带重叠的分块，供向量化使用。
package chunker

import "strings"

const (
	DefaultSize    = 1000
	DefaultOverlap = 200

	// 句号回看范围与单词回看范围（字符数），默认窗口下分别是末尾 20% 与 10%。
	sentenceLookback = 200
	wordLookback     = 100
)

// Chunker 按固定窗口切分文本，优先在句号、其次在空格处断开。
type Chunker struct {
	size    int
	overlap int
}

type Option func(*Chunker)

func WithSize(size int) Option {
	return func(c *Chunker) { c.size = size }
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) { c.overlap = overlap }
}

// New 创建 Chunker。非法的 size 回退为默认值，overlap 不小于 size 时按无重叠处理。
func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.size <= 0 {
		c.size = DefaultSize
	}
	if c.overlap < 0 || c.overlap >= c.size {
		c.overlap = 0
	}
	return c
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk 切分 text，结果是有序、非空、已去除首尾空白的分块。
func (c *Chunker) Chunk(text string) []string {
	return split([]rune(text), c.size, c.overlap)
}

// Split 是 New(WithSize(size), WithOverlap(overlap)).Chunk(text) 的简写。
func Split(text string, size, overlap int) []string {
	return New(WithSize(size), WithOverlap(overlap)).Chunk(text)
}

func split(runes []rune, size, overlap int) []string {
	n := len(runes)
	if n <= size {
		if s := strings.TrimSpace(string(runes)); s != "" {
			return []string{s}
		}
		return nil
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < n; {
		end := start + size
		if end < n {
			end = boundary(runes, start, end, size, start+step)
		} else {
			end = n
		}

		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			chunks = append(chunks, s)
		}

		next := start + step
		if end > next {
			next = end
		}
		start = next
	}
	return chunks
}

// boundary 在 [start, end) 中寻找断点。floor 是下一个窗口的起点，
// 断点不得早于它，否则两个分块之间会漏掉文本。
func boundary(runes []rune, start, end, size, floor int) int {
	if i := lastIndex(runes, start, end, '.'); i >= 0 && i > start+size-sentenceLookback && i+1 >= floor {
		return i + 1
	}
	if i := lastIndex(runes, start, end, ' '); i >= 0 && i > start+size-wordLookback && i >= floor && i > start {
		return i
	}
	return end
}

func lastIndex(runes []rune, start, end int, r rune) int {
	for i := end - 1; i >= start; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
