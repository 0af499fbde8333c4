package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// StripCodeBlock removes a surrounding ```json fence, if any.
func StripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// GenerateJSON asks g for a JSON document, validates it against schema (a
// JSON Schema document; empty skips validation) and decodes it into out.
// Malformed replies are retried up to attempts times. After that, the first
// balanced object or array embedded in the last reply is tried before giving
// up with ErrMalformedOutput.
func GenerateJSON(ctx context.Context, g Generator, req Request, schema string, attempts int, out any) error {
	attempts = max(attempts, 1)

	var last string
	var lastErr error
	for range attempts {
		text, err := g.Generate(ctx, req)
		if err != nil {
			return err
		}
		last = text
		raw := StripCodeBlock(text)
		if lastErr = checkJSON(raw, schema); lastErr == nil {
			return json.Unmarshal([]byte(raw), out)
		}
	}

	if raw, ok := SalvageJSON(last); ok {
		if err := checkJSON(raw, schema); err == nil {
			return json.Unmarshal([]byte(raw), out)
		}
	}
	return fmt.Errorf("%w: %v (raw: %s)", ErrMalformedOutput, lastErr, truncate(last, 200))
}

func checkJSON(raw, schema string) error {
	if !json.Valid([]byte(raw)) {
		return fmt.Errorf("invalid json")
	}
	if schema == "" {
		return nil
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema violations: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// SalvageJSON returns the first balanced {...} or [...] span in s.
func SalvageJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	for start >= 0 {
		if end := matchBracket(s, start); end > start {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexAny(s[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBracket returns the index of the bracket closing s[open], skipping
// string literals, or -1.
func matchBracket(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
