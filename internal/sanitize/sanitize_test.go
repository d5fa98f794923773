package sanitize

import (
	"strings"
	"testing"
)

func TestTextStripsScriptTags(t *testing.T) {
	got := Text(`hello <script>alert(1)</script> world`)
	if strings.Contains(got, "<script>") {
		t.Fatalf("expected script tag stripped, got %q", got)
	}
}

func TestTextPassesPlainContent(t *testing.T) {
	got := Text("just a normal message")
	if got != "just a normal message" {
		t.Fatalf("expected plain text unchanged, got %q", got)
	}
}
