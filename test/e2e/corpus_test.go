package e2e

import (
	"strings"
	"testing"
)

func TestBuildCorpus(t *testing.T) {
	c := BuildCorpus()
	if c.TotalBooks != len(topics) || c.TotalCases != len(topics) {
		t.Fatalf("books = %d, cases = %d, want %d each", c.TotalBooks, c.TotalCases, len(topics))
	}
	if got, want := c.TotalChunks(), len(topics)*6; got != want {
		t.Errorf("total chunks = %d, want %d", got, want)
	}

	ids := make(map[string]bool)
	titles := make(map[string]bool)
	signatures := make(map[string]bool)
	for _, b := range c.Books {
		if ids[b.ID] || titles[b.Title] {
			t.Errorf("duplicate book %s/%s", b.ID, b.Title)
		}
		ids[b.ID] = true
		titles[b.Title] = true
	}
	for _, tc := range c.Cases {
		if signatures[tc.Query] {
			t.Errorf("duplicate query %q", tc.Query)
		}
		signatures[tc.Query] = true
		if !ids[tc.ID] {
			t.Errorf("case %s has no matching book", tc.ID)
		}
		for _, kw := range tc.Expected.MustInclude {
			if !strings.Contains(tc.Query, kw) {
				t.Errorf("case %s: keyword %q is not in its signature", tc.ID, kw)
			}
		}
	}
}

func TestBuildCorpus_titlesDoNotOverlap(t *testing.T) {
	books := BuildCorpus().Books
	for _, a := range books {
		for _, b := range books {
			if a.ID != b.ID && strings.Contains(a.Title, b.Title) {
				t.Errorf("title %q contains %q; title expectations would be ambiguous", a.Title, b.Title)
			}
		}
	}
}
