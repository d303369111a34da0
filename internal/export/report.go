// Package export renders pull request review reports as HTML, PDF, and
// DOCX documents.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"datasetstudio/api/internal/diff"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

// Report holds the data rendered into a review report
type Report struct {
	PRID          string
	Author        string
	DatasetPath   string
	Status        string
	Description   string
	CreatedAt     time.Time
	AcceptedCount int
	RejectedCount int
	Diff          diff.Result
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Export renders the report in the requested format
func Export(report Report, format Format) (*Result, error) {
	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	name := sanitizeFilename(report.Author + "-" + strings.TrimSuffix(report.DatasetPath, ".json"))

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: name + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, name)
	case FormatDOCX:
		return exportDOCX(html, name)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// reportEntry is one diff row prepared for the template
type reportEntry struct {
	Index   int
	Type    string
	Content string
	Old     string
	New     string
}

type reportData struct {
	Report
	Entries []reportEntry
}

// RenderReportHTML renders the review report template
func RenderReportHTML(report Report) (string, error) {
	data := reportData{Report: report}
	for _, entry := range report.Diff.Entries {
		data.Entries = append(data.Entries, reportEntry{
			Index:   entry.Index,
			Type:    string(entry.Type),
			Content: prettyJSON(entry.Content),
			Old:     prettyJSON(entry.Old),
			New:     prettyJSON(entry.New),
		})
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '/':
			b.WriteRune('-')
		case r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	result := b.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "review-report"
	}
	return result
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Review report: {{.DatasetPath}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 900px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .status { text-transform: uppercase; font-weight: bold; }
    .entry { margin: 1rem 0; padding: 1rem; border-left: 4px solid #999; background: #f8f8f8; }
    .entry.added { border-left-color: #2e7d32; }
    .entry.removed { border-left-color: #c62828; }
    .entry.modified { border-left-color: #f9a825; }
    pre { background: #fff; border: 1px solid #ddd; padding: 0.75rem; overflow-x: auto; font-size: 0.85em; }
    .label { font-size: 0.8em; text-transform: uppercase; color: #666; margin-top: 0.5rem; }
  </style>
</head>
<body>
  <h1>Review report: {{.DatasetPath}}</h1>
  <div class="meta">
    Pull request {{.PRID}} by {{.Author}} |
    <span class="status">{{.Status}}</span> |
    opened {{.CreatedAt.Format "Jan 2, 2006 15:04"}}
  </div>
  {{if .Description}}<p>{{.Description}}</p>{{end}}

  <p>{{.Diff.TotalChanges}} changed sample(s).
  {{if or .AcceptedCount .RejectedCount}}Accepted {{.AcceptedCount}}, rejected {{.RejectedCount}}.{{end}}</p>

  {{range .Entries}}
  <div class="entry {{.Type}}">
    <strong>Sample {{.Index}}: {{.Type}}</strong>
    {{if .Content}}<pre>{{.Content}}</pre>{{end}}
    {{if .Old}}<div class="label">Before</div><pre>{{.Old}}</pre>{{end}}
    {{if .New}}<div class="label">After</div><pre>{{.New}}</pre>{{end}}
  </div>
  {{end}}
</body>
</html>`))
