package filter

import "testing"

func BenchmarkFilter_AllowsMessage_NoFilters(b *testing.B) {
	f, err := New(Options{})
	if err != nil {
		b.Fatal(err)
	}
	msg := patchMessage("[PATCH 2/2] doc: typofix", "Signed-off-by: A U Thor <author@example.com>")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.AllowsMessage(msg)
	}
}

func BenchmarkFilter_AllowsMessage_HeaderAndBody(b *testing.B) {
	f, err := New(Options{
		IncludeHeader: []string{`Subject: \[PATCH`, `From:.*@gmail\.com`},
		IncludeBody:   []string{"^diff --git"},
	})
	if err != nil {
		b.Fatal(err)
	}
	msg := patchMessage("[PATCH 2/2] doc: typofix", "diff --git a/README b/README")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.AllowsMessage(msg)
	}
}

func BenchmarkFormatHeaders(b *testing.B) {
	msg := patchMessage("[PATCH 2/2] doc: typofix", "")
	for i := 0; i < b.N; i++ {
		_ = FormatHeaders(msg)
	}
}
