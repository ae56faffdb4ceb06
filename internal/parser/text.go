package parser

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	einoparser "github.com/cloudwego/eino/components/document/parser"
)

const byteOrderMark = "\ufeff"

type textParser struct {
	inner einoparser.Parser
}

func newTextParser() *textParser {
	return &textParser{inner: einoparser.TextParser{}}
}

func (p *textParser) Parse(ctx context.Context, data []byte) (string, []string, error) {
	docs, err := p.inner.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("read text: %w", err)
	}
	var sb strings.Builder
	for i, doc := range docs {
		if doc == nil {
			continue
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(doc.Content)
	}
	content, warnings := normalizeText(sb.String())
	return content, warnings, nil
}

// normalizeText strips a BOM, repairs invalid UTF-8 and unifies line endings.
func normalizeText(s string) (string, []string) {
	var warnings []string
	s = strings.TrimPrefix(s, byteOrderMark)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
		warnings = append(warnings, "invalid UTF-8 sequences replaced")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s), warnings
}

var inlineImageRe = regexp.MustCompile(`!\[[^\]]*\]\(data:image/[a-zA-Z0-9.+-]+;base64,[^)]*\)`)

type markdownParser struct {
	text *textParser
}

func newMarkdownParser() *markdownParser {
	return &markdownParser{text: newTextParser()}
}

func (p *markdownParser) Parse(ctx context.Context, data []byte) (string, []string, error) {
	content, warnings, err := p.text.Parse(ctx, data)
	if err != nil {
		return "", warnings, err
	}
	if n := len(inlineImageRe.FindAllStringIndex(content, -1)); n > 0 {
		content = strings.TrimSpace(inlineImageRe.ReplaceAllString(content, ""))
		warnings = append(warnings, fmt.Sprintf("removed %d embedded image(s)", n))
	}
	return content, warnings, nil
}
