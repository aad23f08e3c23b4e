package relay

import (
	"regexp"
	"strings"
)

var (
	titleMarkerRe = regexp.MustCompile(`(?i)^\s*[\*\-_\s]*title[\*\-_\s:]*\s*`)
	decorationRe  = regexp.MustCompile(`^[\*\-_\s]+|[\*\-_\s]+$`)
)

// titleSplitter accumulates streamed completion text and separates the
// model's first-line title directive from the visible body. Until the first
// newline arrives the whole buffer is tentatively visible; once the newline
// lands the first line becomes the title and only text after it is shown.
type titleSplitter struct {
	buf       strings.Builder
	bodyStart int
	hasTitle  bool
}

// Append adds a streamed delta to the buffer.
func (s *titleSplitter) Append(delta string) {
	if delta == "" {
		return
	}
	if !s.hasTitle {
		if i := strings.IndexByte(delta, '\n'); i >= 0 {
			s.hasTitle = true
			s.bodyStart = s.buf.Len() + i + 1
		}
	}
	s.buf.WriteString(delta)
}

// Visible returns the portion of the accumulated text the user should see.
func (s *titleSplitter) Visible() string {
	full := s.buf.String()
	if !s.hasTitle {
		return full
	}
	return full[s.bodyStart:]
}

// Full returns everything received, title line included.
func (s *titleSplitter) Full() string {
	return s.buf.String()
}

// Title returns the cleaned title extracted from the first line, or ""
// when no newline ever arrived.
func (s *titleSplitter) Title() string {
	if !s.hasTitle {
		return ""
	}
	line := s.buf.String()[:s.bodyStart-1]
	line = titleMarkerRe.ReplaceAllString(line, "")
	line = decorationRe.ReplaceAllString(line, "")
	return line
}
