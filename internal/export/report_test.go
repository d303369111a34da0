package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"datasetstudio/api/internal/diff"
)

func sampleReport() Report {
	return Report{
		PRID:        "pr_42",
		Author:      "ada",
		DatasetPath: "multi-turn/chat.json",
		Status:      "open",
		Description: "Cleaned up assistant turns",
		CreatedAt:   time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Diff: diff.Result{
			Entries: []diff.Entry{
				{
					Index: 1,
					Type:  diff.Modified,
					Old:   json.RawMessage(`{"a":2}`),
					New:   json.RawMessage(`{"a":9}`),
				},
				{
					Index:   2,
					Type:    diff.Added,
					Content: json.RawMessage(`{"a":3}`),
				},
			},
			TotalChanges: 2,
		},
	}
}

func TestRenderReportHTML(t *testing.T) {
	html, err := RenderReportHTML(sampleReport())
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}

	for _, want := range []string{
		"multi-turn/chat.json",
		"pr_42",
		"ada",
		"Cleaned up assistant turns",
		"2 changed sample(s)",
		"Sample 1: modified",
		"Sample 2: added",
		`&#34;a&#34;: 9`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if !strings.Contains(html, `class="entry modified"`) {
		t.Error("modified entry should carry its CSS class")
	}
}

func TestRenderReportHTMLEscapesSampleContent(t *testing.T) {
	report := sampleReport()
	report.Diff.Entries = []diff.Entry{{
		Index:   0,
		Type:    diff.Added,
		Content: json.RawMessage(`{"text":"<script>alert(1)</script>"}`),
	}}
	report.Diff.TotalChanges = 1

	html, err := RenderReportHTML(report)
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Fatal("sample content must be escaped")
	}
}

func TestExportHTML(t *testing.T) {
	result, err := Export(sampleReport(), FormatHTML)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "ada-multi-turn-chat.html" {
		t.Fatalf("filename = %q", result.Filename)
	}
	if result.MimeType != "text/html; charset=utf-8" {
		t.Fatalf("mime type = %q", result.MimeType)
	}
	if len(result.Data) == 0 {
		t.Fatal("expected rendered bytes")
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	if _, err := Export(sampleReport(), Format("xlsx")); err == nil {
		t.Fatal("expected Export() to reject unknown format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"ada-multi-turn/chat":   "ada-multi-turn-chat",
		"weird !@# name":        "weird--name",
		"":                      "review-report",
		strings.Repeat("a", 80): strings.Repeat("a", 50),
	}
	for input, want := range cases {
		if got := sanitizeFilename(input); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b&c")
	if got != "a%20b%26c" {
		t.Fatalf("percentEncodeForDataURL() = %q", got)
	}
}
