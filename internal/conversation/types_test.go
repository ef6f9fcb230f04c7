package conversation

import (
	"testing"
	"time"
	"unicode/utf8"
)

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"", 48, DefaultTitle},
		{"   \n\t ", 48, DefaultTitle},
		{"Analyze this hotel audit", 48, "Analyze this hotel audit"},
		{"one  two\nthree", 48, "one two three"},
	}
	for _, c := range cases {
		if got := DeriveTitle(c.in, c.limit); got != c.want {
			t.Fatalf("DeriveTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDeriveTitle_TruncatesOnWordBoundary(t *testing.T) {
	got := DeriveTitle("please summarize the quarterly hotel audit findings for management", 30)
	if got != "please summarize the…" {
		t.Fatalf("truncated title = %q", got)
	}
	if utf8.RuneCountInString(got) > 31 { // limit plus the ellipsis
		t.Fatalf("title too long: %q", got)
	}
}

func TestRecompute_UpdatedAtMonotonic(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &Conversation{Metadata: Metadata{UpdatedAt: now}}
	c.Messages = append(c.Messages, Message{Tokens: 4}, Message{Tokens: 6})

	c.Recompute(now.Add(-time.Hour))
	if !c.Metadata.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at moved backwards: %v", c.Metadata.UpdatedAt)
	}
	if c.Metadata.MessageCount != 2 || c.Metadata.TotalTokens != 10 {
		t.Fatalf("recompute: count=%d tokens=%d", c.Metadata.MessageCount, c.Metadata.TotalTokens)
	}

	later := now.Add(time.Minute)
	c.Recompute(later)
	if !c.Metadata.UpdatedAt.Equal(later) {
		t.Fatalf("updated_at not advanced: %v", c.Metadata.UpdatedAt)
	}
}
