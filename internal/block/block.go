// Package block locates backslash directives in markdown text and extracts the
// indented block that follows each one.
package block

import (
	"strings"
)

// Directive is one directive occurrence together with the indented body below it.
type Directive struct {
	// Command is the marker name without the leading backslash.
	Command string
	// Mode is the optional {mode} group written right after the marker.
	Mode string
	// Options is the text inside [...], empty when absent.
	Options string
	// Body holds the indented lines that belong to the directive.
	Body string
	// Leading is the text before the marker on the directive's line.
	Leading string
	// Trailing is the remainder of the document after the body.
	Trailing string
}

// ReplaceFunc produces the replacement text for a directive.
type ReplaceFunc func(Directive) (string, error)

// Depth returns the length of the leading run of spaces and tabs in line.
func Depth(line string) int {
	n := 0
	for n < len(line) && (line[n] == ' ' || line[n] == '\t') {
		n++
	}
	return n
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// Replace calls fn once for every unescaped \marker directive in doc, in
// document order, and splices leading + replacement + "\n" + trailing in place
// of each. Replacement text is never scanned again. Escaped markers (\\marker)
// are written back as \marker.
//
// An error from fn stops the scan and is returned unchanged.
func Replace(doc, marker string, fn ReplaceFunc) (string, error) {
	token := `\` + marker

	var out strings.Builder
	out.Grow(len(doc))

	cursor := 0
	for {
		idx := strings.Index(doc[cursor:], token)
		if idx < 0 {
			out.WriteString(doc[cursor:])
			return out.String(), nil
		}
		pos := cursor + idx
		end := pos + len(token)

		if end < len(doc) && isLetter(doc[end]) {
			// a longer control word such as \tikzcdx
			out.WriteString(doc[cursor:end])
			cursor = end
			continue
		}

		if pos > 0 && doc[pos-1] == '\\' {
			// \\marker: drop one backslash and keep the marker literal
			out.WriteString(doc[cursor : pos-1])
			out.WriteString(token)
			cursor = end
			continue
		}

		lineStart := strings.LastIndexByte(doc[:pos], '\n') + 1
		lineEnd := len(doc)
		if nl := strings.IndexByte(doc[end:], '\n'); nl >= 0 {
			lineEnd = end + nl
		}

		h, ok := parseHeader(doc[end:lineEnd])
		if !ok {
			out.WriteString(doc[cursor:end])
			cursor = end
			continue
		}

		leading := doc[lineStart:pos]
		body, trailingStart := scanBody(doc, lineEnd, Depth(leading))

		d := Directive{
			Command:  marker,
			Mode:     h.mode,
			Options:  h.options,
			Body:     body,
			Leading:  leading,
			Trailing: doc[trailingStart:],
		}
		replacement, err := fn(d)
		if err != nil {
			return "", err
		}

		out.WriteString(doc[cursor:lineStart])
		out.WriteString(leading)
		out.WriteString(replacement)
		out.WriteByte('\n')
		cursor = trailingStart
	}
}

// scanBody collects the body that starts after the newline at lineEnd. It
// returns the body text and the offset where the trailing text begins.
func scanBody(doc string, lineEnd, ownDepth int) (string, int) {
	if lineEnd >= len(doc) {
		return "", len(doc)
	}
	start := lineEnd + 1

	var (
		lines     []string
		ref       = -1
		pos       = start
		bodyEnd   = start // offset just past the last body line's newline
		lastBody  = -1    // index into lines of the last non-blank body line
		firstBody = -1
	)
	for pos < len(doc) {
		next := strings.IndexByte(doc[pos:], '\n')
		lineStop := len(doc)
		after := len(doc)
		if next >= 0 {
			lineStop = pos + next
			after = lineStop + 1
		}
		line := doc[pos:lineStop]

		if isBlank(line) {
			lines = append(lines, line)
			pos = after
			continue
		}

		depth := Depth(line)
		if ref < 0 {
			if depth <= ownDepth {
				break
			}
			ref = depth
			firstBody = len(lines)
		} else if depth < ref {
			break
		}

		lines = append(lines, line)
		lastBody = len(lines) - 1
		bodyEnd = after
		pos = after
	}

	if lastBody < 0 {
		// no body: blank lines stay with the trailing text
		return "", start
	}
	return strings.Join(lines[firstBody:lastBody+1], "\n"), bodyEnd
}

type header struct {
	mode    string
	options string
}

// parseHeader reads the optional {mode} and [options] groups that follow a
// marker. Anything other than whitespace after them means rest is not a
// directive header. An unterminated [ yields no options and the rest of the
// line is discarded.
func parseHeader(rest string) (header, bool) {
	var h header
	i := 0

	if i < len(rest) && rest[i] == '{' {
		closeIdx := strings.IndexByte(rest[i:], '}')
		if closeIdx < 0 {
			return header{}, false
		}
		h.mode = strings.TrimSpace(rest[i+1 : i+closeIdx])
		i += closeIdx + 1
	}

	if i < len(rest) && rest[i] == '[' {
		closeIdx := matchBracket(rest[i:])
		if closeIdx < 0 {
			h.options = ""
			return h, true
		}
		h.options = rest[i+1 : i+closeIdx]
		i += closeIdx + 1
	}

	if !isBlank(rest[i:]) {
		return header{}, false
	}
	return h, true
}

// matchBracket returns the index of the ] closing the [ at s[0], honouring
// nested [] and {} pairs, or -1.
func matchBracket(s string) int {
	square, curly := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			square++
		case ']':
			square--
			if square == 0 && curly == 0 {
				return i
			}
		case '{':
			curly++
		case '}':
			if curly > 0 {
				curly--
			}
		}
	}
	return -1
}
