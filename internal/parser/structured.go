package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

type csvParser struct{}

// Parse renders each record as one tab-separated line. A malformed record
// stops reading; whatever was read before it is kept.
func (csvParser) Parse(_ context.Context, data []byte) (string, []string, error) {
	text, warnings := normalizeText(string(data))
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1

	var lines []string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(lines) == 0 {
				return "", warnings, fmt.Errorf("read csv: %w", err)
			}
			warnings = append(warnings, fmt.Sprintf("csv truncated: %v", err))
			break
		}
		lines = append(lines, strings.Join(rec, "\t"))
	}
	return strings.Join(lines, "\n"), warnings, nil
}

type jsonParser struct{}

// Parse flattens a JSON document into one "path: value" line per scalar.
func (jsonParser) Parse(_ context.Context, data []byte) (string, []string, error) {
	data = bytes.TrimPrefix(data, []byte(byteOrderMark))
	if !gjson.ValidBytes(data) {
		return "", nil, errors.New("invalid JSON")
	}
	var lines []string
	flattenJSON("", gjson.ParseBytes(data), &lines)
	return strings.Join(lines, "\n"), nil, nil
}

func flattenJSON(path string, v gjson.Result, out *[]string) {
	switch {
	case v.IsObject():
		v.ForEach(func(key, val gjson.Result) bool {
			p := key.String()
			if path != "" {
				p = path + "." + p
			}
			flattenJSON(p, val, out)
			return true
		})
	case v.IsArray():
		i := 0
		v.ForEach(func(_, val gjson.Result) bool {
			flattenJSON(path+"["+strconv.Itoa(i)+"]", val, out)
			i++
			return true
		})
	default:
		val := v.String()
		if v.Type == gjson.Null {
			val = "null"
		}
		if path == "" {
			*out = append(*out, val)
			return
		}
		*out = append(*out, path+": "+val)
	}
}

type yamlParser struct{}

// Parse checks that every document in the stream is valid YAML and keeps the
// source text.
func (yamlParser) Parse(_ context.Context, data []byte) (string, []string, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("invalid YAML: %w", err)
		}
	}
	content, warnings := normalizeText(string(data))
	return content, warnings, nil
}
