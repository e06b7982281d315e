package helpers

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// ErrNoJSON is returned when a model reply holds no JSON value.
var ErrNoJSON = errors.New("no JSON object or array found")

// ExtractJSON returns the first syntactically valid JSON object or array in a
// model reply. Code fences and chatter around the value are ignored.
func ExtractJSON(s string) (string, error) {
	s = StripFence(s)
	for i := 0; i < len(s); {
		if s[i] != '{' && s[i] != '[' {
			i++
			continue
		}
		sc := scanBrackets(s, i)
		if sc.closed {
			if candidate := s[i : sc.end+1]; json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		for _, span := range sc.inner {
			if candidate := s[span[0] : span[1]+1]; json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		if sc.openString {
			// Quote parity may differ from a later opener; rescan from there.
			i++
			continue
		}
		// Every opener up to end was seen by this scan.
		i = sc.end + 1
	}
	return "", ErrNoJSON
}

// StripFence unwraps a reply that is entirely one ``` or ~~~ fenced block,
// dropping the language tag. Anything else is returned trimmed.
func StripFence(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\uFEFF"))
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) {
			continue
		}
		rest := s[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return s
		}
		body := rest[nl+1:]
		end := strings.LastIndex(body, fence)
		if end < 0 {
			return strings.TrimSpace(body)
		}
		return strings.TrimSpace(body[:end])
	}
	return s
}

type bracketScan struct {
	end    int      // closing bracket, or where the scan stopped
	closed bool     // the bracket at start was closed
	// openString is set when the input ended inside a string literal.
	openString bool
	inner  [][2]int // balanced nested spans, ordered by opening position
}

// scanBrackets walks from the bracket at start to its match, skipping brackets
// inside string literals. It stops early at a mismatched closer.
func scanBrackets(s string, start int) bracketScan {
	type open struct {
		pos   int
		close byte
	}
	var stack []open
	var inner [][2]int
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
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
		case '{':
			stack = append(stack, open{i, '}'})
		case '[':
			stack = append(stack, open{i, ']'})
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1].close != c {
				return bracketScan{end: i, inner: sortSpans(inner)}
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return bracketScan{end: i, closed: true, inner: sortSpans(inner)}
			}
			inner = append(inner, [2]int{top.pos, i})
		}
	}
	return bracketScan{end: len(s) - 1, openString: inString, inner: sortSpans(inner)}
}

func sortSpans(spans [][2]int) [][2]int {
	sort.Slice(spans, func(a, b int) bool { return spans[a][0] < spans[b][0] })
	return spans
}
