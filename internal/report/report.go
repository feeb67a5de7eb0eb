// Package report renders verification outcomes as CSV, YAML, Parquet or a
// plain text summary.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/verification"
)

// Format names an output format.
type Format string

const (
	FormatText    Format = "text"
	FormatCSV     Format = "csv"
	FormatYAML    Format = "yaml"
	FormatParquet Format = "parquet"
)

// Formats lists every supported format.
var Formats = []Format{FormatText, FormatCSV, FormatYAML, FormatParquet}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "yml" {
		return FormatYAML, nil
	}
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", domain.NewValidationError("format", fmt.Sprintf("unknown format %q (want text, csv, yaml or parquet)", s))
}

// IsBinary reports whether the format should not be written to a terminal.
func (f Format) IsBinary() bool {
	return f == FormatParquet
}

// Report is the outcome of verifying one input, e.g. one PDF.
type Report struct {
	Label      string
	References []domain.ReferenceEntry
	Results    []domain.VerificationResult
	Summary    domain.Summary
	Cancelled  bool
	Duration   time.Duration
}

// New builds a report from a finished batch.
func New(label string, refs []domain.ReferenceEntry, batch verification.BatchResult) Report {
	return Report{
		Label:      label,
		References: refs,
		Results:    batch.Results,
		Summary:    batch.Summary,
		Cancelled:  batch.Cancelled,
		Duration:   batch.Duration(),
	}
}

// Row is one reference in tabular output.
type Row struct {
	File          string   `parquet:"file" yaml:"-"`
	Index         int      `parquet:"index" yaml:"index"`
	Status        string   `parquet:"status" yaml:"status"`
	MatchedSource string   `parquet:"matched_source" yaml:"matched_source,omitempty"`
	Score         *float64 `parquet:"score,optional" yaml:"score,omitempty"`
	Explanation   string   `parquet:"explanation" yaml:"explanation"`
	Title         string   `parquet:"title" yaml:"title,omitempty"`
	DOI           string   `parquet:"doi" yaml:"doi,omitempty"`
	RawText       string   `parquet:"raw_text" yaml:"raw_text"`
	SourcesTried  string   `parquet:"sources_tried" yaml:"sources_tried,omitempty"`
	MatchedTitle  string   `parquet:"matched_title" yaml:"matched_title,omitempty"`
	MatchedURL    string   `parquet:"matched_url" yaml:"matched_url,omitempty"`
}

// Rows flattens the report into one row per reference.
func (r Report) Rows() []Row {
	rows := make([]Row, len(r.Results))
	for i, res := range r.Results {
		var ref domain.ReferenceEntry
		if i < len(r.References) {
			ref = r.References[i]
		}
		tried := make([]string, len(res.SourcesTried))
		for j, s := range res.SourcesTried {
			tried[j] = string(s)
		}
		rows[i] = Row{
			File:          r.Label,
			Index:         i,
			Status:        string(res.Status),
			MatchedSource: matchedSource(res),
			Score:         res.Score,
			Explanation:   res.Explanation,
			Title:         ref.Title,
			DOI:           ref.DOI,
			RawText:       ref.RawText,
			SourcesTried:  strings.Join(tried, ","),
			MatchedTitle:  res.MatchedTitle,
			MatchedURL:    res.MatchedURL,
		}
	}
	return rows
}

func matchedSource(res domain.VerificationResult) string {
	if res.MatchedSource == nil {
		return ""
	}
	return string(*res.MatchedSource)
}

// Write renders reports in the given format.
func Write(w io.Writer, format Format, reports ...Report) error {
	switch format {
	case FormatText:
		return WriteText(w, reports...)
	case FormatCSV:
		return WriteCSV(w, reports...)
	case FormatYAML:
		return WriteYAML(w, reports...)
	case FormatParquet:
		return WriteParquet(w, reports...)
	default:
		return domain.NewValidationError("format", fmt.Sprintf("unknown format %q", format))
	}
}
