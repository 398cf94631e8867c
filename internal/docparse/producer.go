package docparse

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"qsearch/internal/pipeline"
)

// Parser turns raw document bytes into a lazy sequence of text segments.
// It understands markdown-ish text: fenced code blocks are kept whole,
// prose is cut at paragraph boundaries, HTML is reduced to its text.
type Parser struct {
	maxChars int
}

const defaultMaxChars = 2000

func NewParser(maxChars int) *Parser {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &Parser{maxChars: maxChars}
}

// Parse validates the bytes and returns the segment producer. The producer
// is finite and non-restartable: once drained it stays drained.
func (p *Parser) Parse(data []byte) (pipeline.SegmentIterator, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, pipeline.NewStageError(pipeline.KindParse, false, errors.New("empty document"))
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, pipeline.NewStageError(pipeline.KindParse, false, errors.New("binary content is not ingestible"))
	}
	if !utf8.Valid(data) {
		return nil, pipeline.NewStageError(pipeline.KindParse, false, fmt.Errorf("document is not valid UTF-8"))
	}

	text := string(data)
	if looksLikeHTML(text) {
		text = stripHTML(text)
	}
	text = cleanNoise(text)

	return &Producer{rest: text, max: p.maxChars}, nil
}

// Producer walks the document front to back, emitting one segment per
// call. Indices are contiguous from zero.
type Producer struct {
	rest string
	next int
	max  int
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z0-9_]*[[:space:]]*\\n.*?\\n[[:space:]]*```")

func (p *Producer) Next() (pipeline.Segment, bool) {
	for {
		p.rest = strings.TrimLeft(p.rest, " \t\r\n")
		if p.rest == "" {
			return pipeline.Segment{}, false
		}

		var seg string
		if strings.HasPrefix(p.rest, "```") {
			if loc := fenceRe.FindStringIndex(p.rest); loc != nil {
				seg = p.rest[:loc[1]]
				p.rest = p.rest[loc[1]:]
			}
		}
		if seg == "" {
			seg, p.rest = cutProse(p.rest, p.max)
		}

		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}

		out := pipeline.Segment{Text: seg, Index: p.next}
		p.next++
		return out, true
	}
}

// cutProse takes the next prose segment off the front of text, stopping
// before the next code fence and preferring paragraph, line, then word
// boundaries when the budget forces a cut.
func cutProse(text string, max int) (segment, rest string) {
	end := len(text)
	if i := strings.Index(text, "\n```"); i >= 0 {
		end = i + 1
	}
	if end <= max {
		return text[:end], text[end:]
	}

	cut := text[:max]
	if i := strings.LastIndex(cut, "\n\n"); i > max/2 {
		return text[:i], text[i:]
	}
	if i := strings.LastIndex(cut, "\n"); i > max/2 {
		return text[:i], text[i:]
	}
	if i := strings.LastIndex(cut, " "); i > max/2 {
		return text[:i], text[i:]
	}
	return cut, text[max:]
}

var (
	editLinkRe = regexp.MustCompile(`(?mi)^\[edit[^\]]*\]\([^\)]+\)\s*$`)
	tocRe      = regexp.MustCompile(`(?mi)^#{1,3}\s+(?:table of )?contents?\s*\n(?:\s*[-*]\s*\[.*?\]\(#.*?\)\s*\n)*`)
)

// cleanNoise strips documentation boilerplate that would never be useful
// in a search result.
func cleanNoise(text string) string {
	text = editLinkRe.ReplaceAllString(text, "")
	text = tocRe.ReplaceAllString(text, "")
	return text
}

var (
	scriptRe = regexp.MustCompile(`(?si)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
)

func looksLikeHTML(text string) bool {
	head := strings.ToLower(text)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html") || strings.Contains(head, "<body")
}

func stripHTML(text string) string {
	text = scriptRe.ReplaceAllString(text, " ")
	text = tagRe.ReplaceAllString(text, " ")
	return html.UnescapeString(text)
}

var _ pipeline.Parser = (*Parser)(nil)
