package server

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeLabel(t *testing.T) {
	valid := []string{"", "office", "香港 01", "US-West (backup)"}
	invalid := []string{"a\nb", "tab\there", "bell\x07", string([]byte{0xff, 0xfe}), strings.Repeat("x", 257)}
	for _, s := range valid {
		if !isSafeLabel(s) {
			t.Fatalf("expected valid label %q", s)
		}
	}
	for _, s := range invalid {
		if isSafeLabel(s) {
			t.Fatalf("expected invalid label %q", s)
		}
	}
}

func TestIsSafeAbsPath(t *testing.T) {
	// empty is allowed
	if !isSafeAbsPath("") {
		t.Fatalf("empty should be allowed")
	}
	abs := filepath.Join(t.TempDir(), "config.json")
	if !isSafeAbsPath(abs) {
		t.Fatalf("abs clean path should be allowed: %s", abs)
	}
	// not absolute
	if isSafeAbsPath("tmp/x") {
		t.Fatalf("relative path should be rejected")
	}
	// with traversal (construct without cleaning)
	sep := string(filepath.Separator)
	bad := sep + "tmp" + sep + ".." + sep + "etc"
	if isSafeAbsPath(bad) {
		t.Fatalf("path with traversal should be rejected: %s", bad)
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
}
