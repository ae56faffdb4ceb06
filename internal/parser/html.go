package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const htmlBlockSelector = "p, div, br, li, tr, h1, h2, h3, h4, h5, h6, section, article, header, footer, blockquote, pre, table"

type htmlParser struct{}

func (htmlParser) Parse(_ context.Context, data []byte) (string, []string, error) {
	text, warnings := normalizeText(string(data))
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return "", warnings, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()
	title := collapseLines(doc.Find("title").First().Text())

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body.Find(htmlBlockSelector).Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml("\n")
	})
	content := collapseLines(body.Text())
	if title != "" && !strings.HasPrefix(content, title) {
		content = strings.TrimSpace(title + "\n\n" + content)
	}
	return content, warnings, nil
}

// collapseLines squeezes runs of spaces inside each line and drops blank lines.
func collapseLines(s string) string {
	var buf bytes.Buffer
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
	}
	return buf.String()
}
