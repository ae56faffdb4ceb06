package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	docxBodyPart   = "word/document.xml"
	maxDocxXMLSize = 64 << 20
)

type docxParser struct{}

func (docxParser) Parse(_ context.Context, data []byte) (string, []string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("open docx: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return "", nil, fmt.Errorf("open docx: %s not found", docxBodyPart)
	}
	rc, err := body.Open()
	if err != nil {
		return "", nil, fmt.Errorf("open docx: %w", err)
	}
	defer rc.Close()

	var (
		sb       strings.Builder
		inText   bool
		inProps  bool
		warnings []string
	)
	dec := xml.NewDecoder(io.LimitReader(rc, maxDocxXMLSize))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if sb.Len() == 0 {
				return "", nil, fmt.Errorf("docx xml: %w", err)
			}
			warnings = append(warnings, fmt.Sprintf("docx truncated: %v", err))
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "pPr":
				// tab stop definitions live here
				inProps = true
			case "tab":
				if !inProps {
					sb.WriteByte('\t')
				}
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "pPr":
				inProps = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	content, more := normalizeText(sb.String())
	return content, append(warnings, more...), nil
}
