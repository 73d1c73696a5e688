package output

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Sink receives the text of every emitted message. Implementations write
// one message per line and must be safe for concurrent use.
type Sink interface {
	Message(text string) error
}

// WriterSink writes messages to an io.Writer, normally stdout, keeping
// operator-facing logs on a separate stream.
type WriterSink struct {
	mu  sync.Mutex
	w   *bufio.Writer
	out io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: bufio.NewWriter(w), out: w}
}

// Message writes text followed by a newline and flushes, so output stays
// line-buffered when piped.
func (s *WriterSink) Message(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.WriteString(text); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}

// Recorder keeps emitted messages in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Message(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return nil
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}
