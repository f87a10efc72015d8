package main

import "testing"

func TestFirstLine(t *testing.T) {
	cases := map[string]string{
		"one line":       "one line",
		"first\nsecond":  "first",
		"":               "",
		"\nsecond":       "",
	}
	for in, want := range cases {
		if got := firstLine(in); got != want {
			t.Errorf("firstLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "", "bash"); got != "bash" {
		t.Errorf("got %q, want bash", got)
	}
	if got := firstNonEmpty("zsh", "bash"); got != "zsh" {
		t.Errorf("got %q, want zsh", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
