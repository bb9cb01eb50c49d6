// Package logclass classifies lines written by a proxy core so that fatal
// startup failures can be surfaced to the user.
package logclass

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity of a classified line.
type Severity int

const (
	Info Severity = iota
	Fatal
)

func (s Severity) String() string {
	if s == Fatal {
		return "fatal"
	}
	return "info"
}

// MarshalText lets Severity render as its name in JSON payloads.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// FatalMarker is the literal token that makes a line fatal.
const FatalMarker = "FATAL"

var (
	// listen tcp 127.0.0.1:1080: bind: address already in use
	// listen tcp [::]:1080: bind: Only one usage of each socket address ...
	bindConflictRe = regexp.MustCompile(`listen (?:tcp|udp)[46]? \S*:(\d+): bind\b`)

	// [INFO] 2024/05/01 12:00:00 message
	trojanHeaderRe = regexp.MustCompile(`^\[(\w+)\]\s+(\d{4}/\d{2}/\d{2}\s+\d{2}:\d{2}:\d{2})\s+(.*)$`)
	// +0800 2024-05-01 12:00:00 FATAL[0000] message
	singBoxHeaderRe = regexp.MustCompile(`^(?:[+-]\d{4} (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) )?([A-Z]+)\[\d+\] (.*)$`)
)

var conflictPhrases = []string{
	"address already in use",
	"only one usage of each socket address",
}

// Event is the result of classifying a single line.
type Event struct {
	Severity Severity `json:"severity"`
	// Message is the trimmed raw line.
	Message string `json:"message"`
	// Port is set when the line reports a bind conflict on that port.
	Port  string `json:"port,omitempty"`
	Level string `json:"level,omitempty"`
	Time  string `json:"time,omitempty"`
}

// Classify never fails; lines it cannot make sense of are Info.
func Classify(line string) Event {
	msg := strings.TrimSpace(line)
	ev := Event{Severity: Info, Message: msg}
	ev.Level, ev.Time = header(msg)
	if !strings.Contains(msg, FatalMarker) {
		return ev
	}
	ev.Severity = Fatal
	ev.Port = conflictPort(msg)
	return ev
}

// PortConflict reports whether the line is a bind conflict with a known port.
func (e Event) PortConflict() bool { return e.Port != "" }

// UserMessage renders the text shown to the user for a fatal event.
func (e Event) UserMessage() string {
	if e.PortConflict() {
		return fmt.Sprintf("[FATAL] startup failed: port %s is already occupied, check whether another proxy program is running", e.Port)
	}
	if strings.HasPrefix(e.Message, "["+FatalMarker+"]") {
		return e.Message
	}
	return "[" + FatalMarker + "] " + e.Message
}

func conflictPort(msg string) string {
	m := bindConflictRe.FindStringSubmatch(msg)
	if m == nil {
		return ""
	}
	lower := strings.ToLower(msg)
	for _, p := range conflictPhrases {
		if strings.Contains(lower, p) {
			return m[1]
		}
	}
	return ""
}

func header(msg string) (level, ts string) {
	if m := trojanHeaderRe.FindStringSubmatch(msg); m != nil {
		return strings.ToUpper(m[1]), m[2]
	}
	if m := singBoxHeaderRe.FindStringSubmatch(msg); m != nil {
		return m[2], m[1]
	}
	return "", ""
}
