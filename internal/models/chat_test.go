package models

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTitleFromText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "Plan a trip to Kyoto", "Plan a trip to Kyoto"},
		{"exact", strings.Repeat("a", 40), strings.Repeat("a", 40)},
		{"long", strings.Repeat("b", 41), strings.Repeat("b", 40)},
		{"multibyte", strings.Repeat("京", 50), strings.Repeat("京", 40)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TitleFromText(tt.in)
			if got != tt.want {
				t.Fatalf("TitleFromText() = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("title is not valid UTF-8: %q", got)
			}
		})
	}
}

func TestChatImageRefs(t *testing.T) {
	c := &Chat{History: []Turn{
		{Role: RoleUser, Parts: []Part{{Text: "look"}, {ImageRef: "users/u/a.png"}}},
		{Role: RoleModel, Parts: []Part{{Text: "a cat"}}},
		{Role: RoleUser, Parts: []Part{{Text: "and this"}, {ImageRef: "users/u/b.jpg"}}},
	}}

	refs := c.ImageRefs()
	if len(refs) != 2 || refs[0] != "users/u/a.png" || refs[1] != "users/u/b.jpg" {
		t.Fatalf("unexpected refs: %v", refs)
	}
	if got := c.History[1].FirstText(); got != "a cat" {
		t.Fatalf("FirstText() = %q", got)
	}
	if got := (Turn{Parts: []Part{{ImageRef: "x"}}}).FirstText(); got != "" {
		t.Fatalf("FirstText() of image-only turn = %q, want empty", got)
	}
}
