package logger

import (
	"bytes"
	"io"
	"log/slog"
)

const colorReset = "\033[0m"

var levelColors = []struct {
	token []byte
	color string
}{
	{[]byte("level=DEBUG"), "\033[36m"}, // cyan
	{[]byte("level=INFO"), "\033[32m"},  // green
	{[]byte("level=WARN"), "\033[33m"},  // yellow
	{[]byte("level=ERROR"), "\033[31m"}, // red
}

// ColorTextHandler is a slog.TextHandler whose level field is wrapped in
// ANSI colour codes. slog.TextHandler quotes control characters inside
// values, so the colour is applied to the encoded line instead.
type ColorTextHandler struct {
	*slog.TextHandler
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	return &ColorTextHandler{TextHandler: slog.NewTextHandler(colorWriter{w: w}, opts)}
}

// colorWriter relies on slog.TextHandler issuing exactly one Write per record.
type colorWriter struct {
	w io.Writer
}

func (cw colorWriter) Write(p []byte) (int, error) {
	if _, err := cw.w.Write(colorize(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func colorize(line []byte) []byte {
	for _, lc := range levelColors {
		i := bytes.Index(line, lc.token)
		if i < 0 {
			continue
		}
		v := i + len("level=")
		end := i + len(lc.token)
		out := make([]byte, 0, len(line)+len(lc.color)+len(colorReset))
		out = append(out, line[:v]...)
		out = append(out, lc.color...)
		out = append(out, line[v:end]...)
		out = append(out, colorReset...)
		return append(out, line[end:]...)
	}
	return line
}
