package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/unicode"
)

var errNoPDFText = errors.New("no extractable text (scanned or image-only PDF?)")

var disablePDFConfigDir sync.Once

var utf16BE = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)

type pdfParser struct{}

func newPDFParser() pdfParser {
	// pdfcpu would otherwise create a config dir under the user's home.
	disablePDFConfigDir.Do(api.DisableConfigDir)
	return pdfParser{}
}

func (pdfParser) Parse(ctx context.Context, data []byte) (string, []string, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return "", nil, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return "", nil, fmt.Errorf("validate pdf: %w", err)
	}

	var (
		warnings []string
		pages    []string
	)
	for page := 1; page <= pdfCtx.PageCount; page++ {
		if err := ctx.Err(); err != nil {
			return "", warnings, err
		}
		r, err := pdfcpu.ExtractPageContent(pdfCtx, page)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: %v", page, err))
			continue
		}
		if r == nil {
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: %v", page, err))
			continue
		}
		text := strings.TrimSpace(contentStreamText(raw))
		if text == "" {
			continue
		}
		pages = append(pages, text)
		if fonts := pageCompositeFonts(pdfCtx, page); len(fonts) > 0 {
			warnings = append(warnings, fmt.Sprintf("page %d: composite font %s is not mapped to unicode, text may be garbled", page, strings.Join(fonts, ", ")))
		}
	}
	if len(pages) == 0 {
		return "", warnings, errNoPDFText
	}
	content, more := normalizeText(strings.Join(pages, "\n\n"))
	return content, append(warnings, more...), nil
}

// pageCompositeFonts lists the Type0 fonts in a page's font resources.
func pageCompositeFonts(pdfCtx *model.Context, page int) []string {
	d, _, inh, err := pdfCtx.PageDict(page, false)
	if err != nil {
		return nil
	}
	var res types.Dict
	if o, ok := d.Find("Resources"); ok {
		res, _ = pdfCtx.DereferenceDict(o)
	}
	if res == nil && inh != nil {
		res = inh.Resources
	}
	return compositeFonts(pdfCtx.XRefTable, res)
}

func compositeFonts(xref *model.XRefTable, res types.Dict) []string {
	o, ok := res.Find("Font")
	if !ok {
		return nil
	}
	fonts, err := xref.DereferenceDict(o)
	if err != nil {
		return nil
	}
	var names []string
	for name, fo := range fonts {
		fd, err := xref.DereferenceDict(fo)
		if err != nil || fd == nil {
			continue
		}
		if st := fd.NameEntry("Subtype"); st != nil && *st == "Type0" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// contentStreamText pulls the operands of the text-showing operators out of
// a decoded page content stream. Glyphs of composite (CID) fonts are not
// mapped back to unicode.
func contentStreamText(stream []byte) string {
	var (
		out     strings.Builder
		pending []string
		nums    []float64
		depth   int
	)
	newline := func() {
		s := out.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			out.WriteByte('\n')
		}
	}
	flush := func() {
		for _, p := range pending {
			out.WriteString(p)
		}
	}
	reset := func() {
		pending = pending[:0]
		nums = nums[:0]
	}

	lx := &pdfLexer{data: stream}
	for {
		tok, kind, ok := lx.next()
		if !ok {
			break
		}
		switch kind {
		case tokString:
			pending = append(pending, tok)
		case tokNumber:
			f, _ := strconv.ParseFloat(tok, 64)
			if depth > 0 && f < -200 {
				pending = append(pending, " ")
				continue
			}
			nums = append(nums, f)
		case tokArrayStart:
			depth++
		case tokArrayEnd:
			if depth > 0 {
				depth--
			}
		case tokOperator:
			switch tok {
			case "Tj", "TJ":
				flush()
			case "'", `"`:
				newline()
				flush()
			case "T*", "ET":
				newline()
			case "Td", "TD":
				if len(nums) >= 2 && nums[len(nums)-1] != 0 {
					newline()
				} else if out.Len() > 0 {
					out.WriteByte(' ')
				}
			case "ID":
				lx.skipInlineImage()
			}
			reset()
		}
	}
	return out.String()
}

type tokenKind int

const (
	tokString tokenKind = iota
	tokNumber
	tokArrayStart
	tokArrayEnd
	tokOperator
	tokOther
)

type pdfLexer struct {
	data []byte
	pos  int
}

func isPDFSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', 0:
		return true
	}
	return false
}

func isPDFDelim(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *pdfLexer) next() (string, tokenKind, bool) {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isPDFSpace(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			l.pos++
			return decodePDFBytes(l.literal()), tokString, true
		case c == '<':
			if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
				l.pos += 2
				return "<<", tokOther, true
			}
			l.pos++
			return decodePDFBytes(l.hex()), tokString, true
		case c == '>':
			l.pos++
			if l.pos < len(l.data) && l.data[l.pos] == '>' {
				l.pos++
			}
			return ">>", tokOther, true
		case c == '[':
			l.pos++
			return "[", tokArrayStart, true
		case c == ']':
			l.pos++
			return "]", tokArrayEnd, true
		case c == '/':
			l.pos++
			return "/" + l.regular(), tokOther, true
		case c == '{' || c == '}' || c == ')':
			l.pos++
		default:
			tok := l.regular()
			if tok == "" {
				l.pos++
				continue
			}
			if isPDFNumber(tok) {
				return tok, tokNumber, true
			}
			return tok, tokOperator, true
		}
	}
	return "", tokOther, false
}

func (l *pdfLexer) regular() string {
	start := l.pos
	for l.pos < len(l.data) && !isPDFSpace(l.data[l.pos]) && !isPDFDelim(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

func isPDFNumber(tok string) bool {
	digits := 0
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
		case (c == '-' || c == '+') && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}

// literal reads a (...) string body; the opening paren is already consumed.
func (l *pdfLexer) literal() []byte {
	var buf []byte
	nest := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			nest++
			buf = append(buf, c)
		case ')':
			nest--
			if nest == 0 {
				return buf
			}
			buf = append(buf, c)
		case '\\':
			if l.pos >= len(l.data) {
				return buf
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b':
				buf = append(buf, '\b')
			case 'f':
				buf = append(buf, '\f')
			case '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.data); i++ {
						d := l.data[l.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						l.pos++
					}
					buf = append(buf, byte(v))
				} else {
					buf = append(buf, e)
				}
			}
		default:
			buf = append(buf, c)
		}
	}
	return buf
}

// hex reads a <...> string body; the opening bracket is already consumed.
func (l *pdfLexer) hex() []byte {
	var (
		buf  []byte
		half = -1
	)
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			break
		}
		v, ok := hexValue(c)
		if !ok {
			continue
		}
		if half < 0 {
			half = v
			continue
		}
		buf = append(buf, byte(half<<4|v))
		half = -1
	}
	if half >= 0 {
		buf = append(buf, byte(half<<4))
	}
	return buf
}

func hexValue(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}

// skipInlineImage jumps past the binary payload of a BI ... ID ... EI block.
func (l *pdfLexer) skipInlineImage() {
	for l.pos+2 < len(l.data) {
		if isPDFSpace(l.data[l.pos]) && l.data[l.pos+1] == 'E' && l.data[l.pos+2] == 'I' &&
			(l.pos+3 == len(l.data) || isPDFSpace(l.data[l.pos+3])) {
			l.pos += 3
			return
		}
		l.pos++
	}
	l.pos = len(l.data)
}

// decodePDFBytes reads UTF-16BE strings (with BOM) and treats everything else
// as Latin-1, dropping control characters.
func decodePDFBytes(b []byte) string {
	var sb strings.Builder
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		decoded, err := utf16BE.NewDecoder().Bytes(b)
		if err != nil {
			decoded = b[2:]
		}
		for _, r := range string(decoded) {
			if r >= 0x20 || r == '\n' || r == '\t' {
				sb.WriteRune(r)
			}
		}
		return sb.String()
	}
	for _, c := range b {
		if c >= 0x20 || c == '\n' || c == '\t' {
			sb.WriteRune(rune(c))
		}
	}
	return sb.String()
}
