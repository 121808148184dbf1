package transcribe

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Suppression identifies one Python warning by category and message text.
type Suppression struct {
	Category  string
	Substring string
}

// FP16Warning is emitted by openai-whisper when it falls back to FP32 on a
// CPU without half-precision support. It is informational only.
var FP16Warning = Suppression{Category: "UserWarning", Substring: "FP16 is not supported on CPU"}

func (s Suppression) matches(line string) bool {
	if s.Substring == "" || !strings.Contains(line, s.Substring) {
		return false
	}
	return s.Category == "" || strings.Contains(line, s.Category)
}

// pythonEnv renders the suppression as a PYTHONWARNINGS entry.
func (s Suppression) pythonEnv() string {
	return "ignore:" + s.Substring + ":" + s.Category
}

// WarningFilter is a line-oriented writer that drops lines matching its
// suppressions, plus the "warnings.warn(...)" source echo Python prints
// right after a warning. Everything else is forwarded unchanged and in order.
// Carriage returns count as line ends so progress bars are not held back.
type WarningFilter struct {
	mu       sync.Mutex
	out      io.Writer
	rules    []Suppression
	buf      []byte
	skipEcho bool
	dropped  int
}

func NewWarningFilter(out io.Writer, rules ...Suppression) *WarningFilter {
	return &WarningFilter{out: out, rules: rules}
}

func (f *WarningFilter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf = append(f.buf, p...)
	for {
		i := bytes.IndexAny(f.buf, "\r\n")
		if i < 0 {
			break
		}
		if f.buf[i] == '\r' {
			// Keep CRLF together; a trailing CR waits for the next write.
			if i+1 == len(f.buf) {
				break
			}
			if f.buf[i+1] == '\n' {
				i++
			}
		}
		line := f.buf[:i+1]
		if err := f.emit(line); err != nil {
			f.buf = f.buf[i+1:]
			return len(p), err
		}
		f.buf = f.buf[i+1:]
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return len(p), nil
}

// Flush forwards a trailing partial line, if any.
func (f *WarningFilter) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buf) == 0 {
		return nil
	}
	line := f.buf
	f.buf = nil
	return f.emit(line)
}

// Dropped reports how many lines were suppressed.
func (f *WarningFilter) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func (f *WarningFilter) emit(line []byte) error {
	text := string(line)
	if f.skipEcho {
		f.skipEcho = false
		if strings.Contains(text, "warnings.warn(") {
			f.dropped++
			return nil
		}
	}
	for _, r := range f.rules {
		if r.matches(text) {
			f.dropped++
			f.skipEcho = true
			return nil
		}
	}
	_, err := f.out.Write(line)
	return err
}
