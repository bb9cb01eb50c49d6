package logclass

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestClassify_BindConflict(t *testing.T) {
	ev := Classify("[FATAL] listen tcp 127.0.0.1:1080: bind: address already in use\n")
	if ev.Severity != Fatal {
		t.Fatalf("severity = %v, want fatal", ev.Severity)
	}
	if ev.Port != "1080" {
		t.Fatalf("port = %q, want 1080", ev.Port)
	}
	if ev.Message != "[FATAL] listen tcp 127.0.0.1:1080: bind: address already in use" {
		t.Fatalf("message not trimmed: %q", ev.Message)
	}
}

func TestClassify_NonFatal(t *testing.T) {
	ev := Classify("  [INFO] 2024/05/01 12:00:00 trojan-go client started  ")
	if ev.Severity != Info || ev.Port != "" {
		t.Fatalf("got %+v", ev)
	}
	if ev.Level != "INFO" || ev.Time != "2024/05/01 12:00:00" {
		t.Fatalf("header not parsed: %+v", ev)
	}
}

func TestClassify_Variants(t *testing.T) {
	cases := []struct {
		line     string
		severity Severity
		port     string
	}{
		{"FATAL[0000] start service: start inbound/mixed[0]: listen tcp [::]:2080: bind: address already in use", Fatal, "2080"},
		{"+0800 2024-05-01 12:00:00 FATAL[0000] listen tcp4 0.0.0.0:7890: bind: address already in use", Fatal, "7890"},
		{"FATAL listen udp :53: bind: address already in use", Fatal, "53"},
		{"[FATAL] listen tcp 127.0.0.1:1080: bind: Only one usage of each socket address (protocol/network address/port) is normally permitted.", Fatal, "1080"},
		{"[FATAL] listen tcp 127.0.0.1:1080: bind: permission denied", Fatal, ""},
		{"[FATAL] invalid config: unknown field", Fatal, ""},
		{"listen tcp 127.0.0.1:1080: bind: address already in use", Info, ""},
		{"fatal error lowercase is not the marker", Info, ""},
		{"", Info, ""},
		{"\x00\xff garbage", Info, ""},
	}
	for _, tc := range cases {
		ev := Classify(tc.line)
		if ev.Severity != tc.severity || ev.Port != tc.port {
			t.Errorf("Classify(%q) = {%v %q}, want {%v %q}", tc.line, ev.Severity, ev.Port, tc.severity, tc.port)
		}
	}
}

func TestClassify_SingBoxHeader(t *testing.T) {
	ev := Classify("+0800 2024-05-01 12:00:00 WARN[0003] outbound/trojan[proxy]: connection reset")
	if ev.Level != "WARN" || ev.Time != "2024-05-01 12:00:00" {
		t.Fatalf("header not parsed: %+v", ev)
	}
	ev = Classify("FATAL[0000] decode config: unexpected EOF")
	if ev.Level != "FATAL" || ev.Time != "" {
		t.Fatalf("header not parsed: %+v", ev)
	}
}

func TestUserMessage(t *testing.T) {
	ev := Classify("[FATAL] listen tcp 127.0.0.1:1080: bind: address already in use")
	msg := ev.UserMessage()
	if !strings.Contains(msg, "port 1080") || !strings.HasPrefix(msg, "[FATAL] startup failed") {
		t.Fatalf("unexpected conflict message: %q", msg)
	}
	if got := Classify("[FATAL] bad config").UserMessage(); got != "[FATAL] bad config" {
		t.Fatalf("prefixed fatal line changed: %q", got)
	}
	if got := Classify("FATAL[0000] bad config").UserMessage(); got != "[FATAL] FATAL[0000] bad config" {
		t.Fatalf("unprefixed fatal line: %q", got)
	}
}

func TestEventJSON(t *testing.T) {
	b, err := json.Marshal(Classify("[FATAL] oops"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"severity":"fatal"`) {
		t.Fatalf("severity not rendered by name: %s", b)
	}
	if strings.Contains(string(b), `"port"`) {
		t.Fatalf("empty port should be omitted: %s", b)
	}
}
