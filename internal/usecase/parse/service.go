// Package parse turns free-text vision model output into extracted fields.
package parse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
	"github.com/kailas-cloud/guestid/internal/domain/extraction"
)

var refusalMarkers = []string{
	"unable to analyze",
	"cannot analyze",
	"can't analyze",
	"i'm unable to",
}

// Parser converts model text into a field map.
type Parser struct {
	classifier Classifier
}

// New creates a Parser.
func New(classifier Classifier) *Parser {
	return &Parser{classifier: classifier}
}

// Parse extracts fields from raw model output. Refusals and non-object output fail
// with domain.ErrParseFailure; individual malformed entries are skipped.
func (p *Parser) Parse(raw string, dt doctype.Type) (extraction.Fields, error) {
	if marker, ok := IsRefusal(raw); ok {
		return nil, fmt.Errorf("model refused (%q): %w", marker, domain.ErrParseFailure)
	}

	body := StripCodeFence(raw)
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("response is not valid JSON: %w", domain.ErrParseFailure)
	}
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return nil, fmt.Errorf("response is not a JSON object: %w", domain.ErrParseFailure)
	}

	fields := make(extraction.Fields)
	doc.ForEach(func(key, entry gjson.Result) bool {
		name := key.String()
		if name == "" || !entry.IsObject() {
			return true
		}
		v := entry.Get("value")
		if !v.Exists() {
			return true
		}

		value := coerceValue(v)
		conf := coerceConfidence(entry.Get("confidence"))
		fields[name] = extraction.FieldExtraction{
			Name:              name,
			Value:             value,
			Confidence:        conf,
			NeedsVerification: p.classifier.NeedsVerification(name, conf, value, dt),
		}
		return true
	})

	return fields, nil
}

// IsRefusal reports whether the text contains a refusal marker, case-insensitively.
func IsRefusal(raw string) (string, bool) {
	lower := strings.ToLower(raw)
	for _, m := range refusalMarkers {
		if strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}

// StripCodeFence returns the content of the first ```json or ``` fenced block,
// or the trimmed input when there is no fence.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if len(rest) >= 4 && strings.EqualFold(rest[:4], "json") {
		rest = rest[4:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func coerceValue(v gjson.Result) string {
	if v.Type == gjson.Null {
		return ""
	}
	return v.String()
}

func coerceConfidence(c gjson.Result) int {
	switch c.Type {
	case gjson.Number:
		return extraction.ClampConfidence(c.Num)
	case gjson.String:
		s := strings.TrimSuffix(strings.TrimSpace(c.Str), "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		return extraction.ClampConfidence(f)
	default:
		return 0
	}
}
