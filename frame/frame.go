// Package frame reassembles the logging program's <CMD>…</CMD> wire frames from
// a raw TCP byte stream and offers case-insensitive lookups over the
// <NAME>value</NAME> fields nested inside them.
package frame

import (
	"regexp"
	"strings"
)

// tagRE matches anything that looks like an open or close tag, including tags
// with whitespace injected between the brackets ("< CALL >", "</ CA LL>").
var tagRE = regexp.MustCompile(`<\s*/?\s*[A-Za-z_][A-Za-z0-9_\s]*>`)

// Frame is one complete protocol message. The zero value is an empty frame.
type Frame struct {
	text  string
	upper string
}

// New normalizes raw and returns it as a Frame.
func New(raw string) Frame {
	text := normalizeTags(raw)
	return Frame{text: text, upper: asciiUpper(text)}
}

// Text returns the normalized frame body.
func (f Frame) Text() string { return f.text }

// Upper returns the body with ASCII letters upper-cased. Byte offsets match Text.
func (f Frame) Upper() string { return f.upper }

// Empty reports whether the frame carries no text.
func (f Frame) Empty() bool { return strings.TrimSpace(f.text) == "" }

// Has reports whether an opening <name> tag occurs anywhere in the frame.
func (f Frame) Has(name string) bool {
	return strings.Contains(f.upper, "<"+asciiUpper(name)+">")
}

// Tag returns the trimmed value between the first <name> and the </name> that
// follows it. Matching is case-insensitive; later occurrences are ignored.
func (f Frame) Tag(name string) (string, bool) {
	name = asciiUpper(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	open := "<" + name + ">"
	i := strings.Index(f.upper, open)
	if i < 0 {
		return "", false
	}
	from := i + len(open)
	j := strings.Index(f.upper[from:], "</"+name+">")
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(f.text[from : from+j]), true
}

// FirstOf tries each alternate field name in priority order and returns the
// first value that is present and non-empty. The logging program renamed
// several fields between releases (CALL vs fldCall, LON vs LONG).
func (f Frame) FirstOf(names ...string) string {
	for _, name := range names {
		if v, ok := f.Tag(name); ok && v != "" {
			return v
		}
	}
	return ""
}

// Split breaks a multi-entry frame on a repeating <marker> element. Each entry
// runs from its opening marker to the matching close marker, or to the next
// opening marker when the close is missing.
func (f Frame) Split(marker string) []Frame {
	marker = asciiUpper(strings.TrimSpace(marker))
	if marker == "" {
		return nil
	}
	open := "<" + marker + ">"
	closeTag := "</" + marker + ">"
	var out []Frame
	rest := 0
	for {
		i := strings.Index(f.upper[rest:], open)
		if i < 0 {
			break
		}
		start := rest + i + len(open)
		end := len(f.upper)
		if j := strings.Index(f.upper[start:], open); j >= 0 {
			end = start + j
		}
		next := end
		if k := strings.Index(f.upper[start:end], closeTag); k >= 0 {
			end = start + k
		}
		body := f.text[start:end]
		if strings.TrimSpace(body) != "" {
			out = append(out, Frame{text: body, upper: f.upper[start:end]})
		}
		rest = next
	}
	return out
}

func normalizeTags(s string) string {
	if !strings.ContainsAny(s, " \t\r\n") {
		return s
	}
	return tagRE.ReplaceAllStringFunc(s, func(tag string) string {
		return strings.Join(strings.Fields(tag), "")
	})
}

// asciiUpper upper-cases ASCII letters only so byte offsets stay aligned with
// the original string even when it carries UTF-8 text.
func asciiUpper(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			if b == nil {
				b = []byte(s)
			}
			b[i] = c - ('a' - 'A')
		}
	}
	if b == nil {
		return s
	}
	return string(b)
}
