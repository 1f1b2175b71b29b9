package tgui

import (
	"errors"
	"strings"
	"testing"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "hello", n: 10, want: "hello"},
		{in: "hello", n: 5, want: "hello"},
		{in: "hello world", n: 6, want: "hello…"},
		{in: "ünïcödé", n: 4, want: "ünï…"},
		{in: "abc", n: 0, want: ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestCallbackData(t *testing.T) {
	t.Parallel()

	got, err := CallbackData("interest", "123")
	if err != nil || got != "interest:123" {
		t.Fatalf("CallbackData = %q, %v, want interest:123", got, err)
	}
	if _, err := CallbackData("interest", strings.Repeat("9", 60)); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("CallbackData error = %v, want ErrCallbackDataTooLong", err)
	}
}

func TestHTMLHelpers(t *testing.T) {
	t.Parallel()

	got := JoinH(" ", B("A&B"), "", Code("<x>"))
	if want := H("<b>A&amp;B</b> <code>&lt;x&gt;</code>"); got != want {
		t.Fatalf("JoinH = %q, want %q", got, want)
	}
}
