package logging

import (
	"fmt"
	"io"
)

// EarlyLog reports problems that happen before the zap logger is built,
// such as flag and configuration errors.
type EarlyLog struct {
	out io.Writer
}

func NewEarlyLogTo(w io.Writer) *EarlyLog {
	return &EarlyLog{out: w}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "ERROR: "+msg+"\n", args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "WARN: "+msg+"\n", args...)
}
