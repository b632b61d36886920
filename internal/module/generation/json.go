package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/animemaker/server/internal/shared/errors"
)

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	fencedRe     = regexp.MustCompile("(?s)```\\s*(.*?)```")
	embeddedRe   = regexp.MustCompile(`(?s)[\[{].*[\]}]`)

	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls the first JSON object or array out of a model
// response and unmarshals it into v. Responses wrapped in markdown fences
// or surrounded by prose are handled, and a best-effort repair pass runs
// before giving up. Returns errors wrapping apperrors.ErrNoJSONFound when
// no JSON-like substring exists and apperrors.ErrMalformedJSON when a
// candidate was found but could not be parsed even after repair.
func ExtractJSON(text string, v any) error {
	candidates := findCandidates(text)
	if len(candidates) == 0 {
		return fmt.Errorf("%w: %q", apperrors.ErrNoJSONFound, truncate(text, 80))
	}

	var lastErr error
	for _, candidate := range candidates {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
		err := json.Unmarshal([]byte(repairJSON(candidate)), v)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrMalformedJSON, lastErr)
}

// findCandidates orders the JSON-like substrings to try. Fenced blocks
// come first. Text that itself starts with a brace keeps its full tail
// ahead of the brace-bounded span: the bounded match ends at the last
// closer in the text, which silently drops the tail of truncated model
// output. Prose-wrapped JSON tries the bounded span first so trailing
// prose does not poison the parse.
func findCandidates(text string) []string {
	var out []string
	for _, re := range []*regexp.Regexp{fencedJSONRe, fencedRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			if inner := strings.TrimSpace(m[1]); strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
				out = append(out, inner)
			}
		}
	}

	bounded := strings.TrimSpace(embeddedRe.FindString(text))
	tail := ""
	if start := strings.IndexAny(text, "{["); start >= 0 {
		tail = strings.TrimSpace(text[start:])
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		out = append(out, tail)
		if bounded != "" && bounded != tail {
			out = append(out, bounded)
		}
		return out
	}
	if bounded != "" {
		out = append(out, bounded)
	}
	if tail != "" {
		out = append(out, tail)
	}
	return out
}

// repairJSON fixes the malformations truncated model output commonly
// shows: trailing commas, an unterminated final string, and missing
// closing braces or brackets.
func repairJSON(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")

	var (
		inString bool
		escaped  bool
		stack    []byte
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, ", \n\t")
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
