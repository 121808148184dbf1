package transcribe

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript returns the printable transcript: surrounding whitespace
// trimmed and composed to NFC so Devanagari and other combining scripts
// print the same regardless of which backend produced them.
func (r *Result) Transcript() string {
	if r == nil {
		return ""
	}
	return norm.NFC.String(strings.TrimSpace(r.Text))
}

// joinSegments rebuilds the full text from raw segment text. Segments carry
// their own leading spaces where the language uses them, so nothing is
// inserted between them.
func joinSegments(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Text)
	}
	return strings.TrimSpace(b.String())
}

func (r *Result) lastEnd() float64 {
	if len(r.Segments) == 0 {
		return 0
	}
	return r.Segments[len(r.Segments)-1].End
}
