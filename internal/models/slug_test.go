package models

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "hello", "hello"},
		{"uppercase", "Product Strategy", "product-strategy"},
		{"already slugged", "product-strategy", "product-strategy"},
		{"underscores", "my_doc_name", "my-doc-name"},
		{"special chars collapse", "Hello, World!", "hello-world"},
		{"leading digits", "5 Whys", "5-whys"},
		{"surrounding whitespace", "  Root Cause Analysis  ", "root-cause-analysis"},
		{"consecutive spaces", "hello   world", "hello-world"},
		{"mixed", "My Cool_Doc (v3)", "my-cool-doc-v3"},
		{"empty string", "", ""},
		{"only special chars", "!@#$%", ""},
		{"unicode replaced", "café résumé", "caf-r-sum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slugify(tt.in)
			if got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlugifyDeterministic(t *testing.T) {
	in := "Problem Solving & Decision Making"
	first := Slugify(in)
	for i := 0; i < 10; i++ {
		if got := Slugify(in); got != first {
			t.Fatalf("Slugify not deterministic: %q vs %q", got, first)
		}
	}
	if strings.Contains(first, "--") {
		t.Errorf("Slugify(%q) = %q contains a double hyphen", in, first)
	}
}

func TestItemSlug(t *testing.T) {
	if got := ItemSlug("5 Whys", 3); got != "5-whys" {
		t.Errorf("ItemSlug = %q, want 5-whys", got)
	}
	if got := ItemSlug("???", 7); got != "item-7" {
		t.Errorf("ItemSlug fallback = %q, want item-7", got)
	}

	long := strings.Repeat("ab ", 80)
	got := ItemSlug(long, 1)
	if len(got) > MaxItemSlugLen {
		t.Errorf("ItemSlug length = %d, want <= %d", len(got), MaxItemSlugLen)
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("ItemSlug(%q) = %q ends with hyphen", long, got)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	if JobStatusProcessing.Terminal() || JobStatusUploaded.Terminal() {
		t.Error("uploaded/processing must not be terminal")
	}
	for _, s := range []JobStatus{JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
