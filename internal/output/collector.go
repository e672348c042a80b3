// Package output implements the per-session Output Collector: an append-only,
// size-bounded, ordered log of everything the executed script printed.
//
// BOUNDING RULE:
// The collector stores at most MaxBytes of text (lines plus the newlines that
// join them). The first line that would overflow is cut to fill the remaining
// budget, every later line is dropped, and String() ends with exactly one
// TruncationMarker. Nothing is silently lost: the marker is always visible.
package output

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// Severity tags a captured line.
type Severity string

const (
	Info    Severity = "info"
	Warning Severity = "warning"
	Error   Severity = "error"
)

const (
	// DefaultMaxBytes is used when a collector is created with a non-positive cap.
	DefaultMaxBytes = 64 * 1024

	// TruncationMarker is appended once when output exceeded the cap.
	TruncationMarker = "... [output truncated]"

	errorPrefix   = "ERROR: "
	warningPrefix = "WARNING: "
)

// Line is one captured write.
type Line struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

// Collector is safe for concurrent use. None of its methods block beyond a
// short mutex hold.
type Collector struct {
	mu        sync.Mutex
	lines     []Line
	size      int
	max       int
	truncated bool
}

// NewCollector creates an empty collector capped at maxBytes.
func NewCollector(maxBytes int) *Collector {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Collector{max: maxBytes}
}

// Append renders values, joins them with a single space and stores the line.
// Error and warning lines get a visible prefix.
func (c *Collector) Append(sev Severity, values ...Value) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.Render()
	}
	text := strings.Join(parts, " ")

	switch sev {
	case Error:
		text = errorPrefix + text
	case Warning:
		text = warningPrefix + text
	default:
		sev = Info
	}

	c.add(Line{Severity: sev, Text: text})
}

// MarkTruncated records that output was lost upstream of the collector (for
// example an oversized frame the sandbox had to discard).
func (c *Collector) MarkTruncated() {
	c.mu.Lock()
	c.truncated = true
	c.mu.Unlock()
}

func (c *Collector) add(line Line) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.truncated {
		return
	}

	sep := 0
	if len(c.lines) > 0 {
		sep = 1
	}

	if c.size+sep+len(line.Text) <= c.max {
		c.lines = append(c.lines, line)
		c.size += sep + len(line.Text)
		return
	}

	// Overflow: keep as much of this line as fits, then stop accepting.
	c.truncated = true
	remaining := c.max - c.size - sep
	if remaining <= 0 {
		return
	}
	cut := remaining
	for cut > 0 && !utf8.RuneStart(line.Text[cut]) {
		cut--
	}
	if cut == 0 {
		return
	}
	line.Text = line.Text[:cut]
	c.lines = append(c.lines, line)
	c.size += sep + cut
}

// Lines returns a copy of the retained lines in call order.
func (c *Collector) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Len returns the number of retained lines.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Empty reports whether nothing was captured, not even a truncated write.
func (c *Collector) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines) == 0 && !c.truncated
}

// Size returns the stored byte count, excluding the truncation marker.
func (c *Collector) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Truncated reports whether the cap was hit.
func (c *Collector) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

// String returns the newline-joined lines, followed by the truncation marker
// when the cap was hit.
func (c *Collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(c.size + len(TruncationMarker) + 1)
	for i, l := range c.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Text)
	}
	if c.truncated {
		if len(c.lines) > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(TruncationMarker)
	}
	return b.String()
}
