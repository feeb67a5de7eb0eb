package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/helixir/citation-verification-service/internal/domain"
)

var csvHeader = []string{
	"file", "index", "status", "matched_source", "score", "explanation",
	"title", "doi", "raw_text", "sources_tried", "matched_title", "matched_url",
}

// WriteCSV writes one row per reference across all reports.
func WriteCSV(w io.Writer, reports ...Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range reports {
		for _, row := range r.Rows() {
			score := ""
			if row.Score != nil {
				score = strconv.FormatFloat(*row.Score, 'f', 4, 64)
			}
			record := []string{
				row.File, strconv.Itoa(row.Index), row.Status, row.MatchedSource, score, row.Explanation,
				row.Title, row.DOI, row.RawText, row.SourcesTried, row.MatchedTitle, row.MatchedURL,
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// yamlReport is the YAML document for one report.
type yamlReport struct {
	File      string      `yaml:"file,omitempty"`
	Cancelled bool        `yaml:"cancelled,omitempty"`
	Duration  string      `yaml:"duration,omitempty"`
	Summary   yamlSummary `yaml:"summary"`
	Results   []Row       `yaml:"results"`
}

type yamlSummary struct {
	Verified    int      `yaml:"verified"`
	Invalid     int      `yaml:"invalid"`
	NotFound    int      `yaml:"not_found"`
	Skipped     int      `yaml:"skipped"`
	Warnings    int      `yaml:"warnings"`
	WarningList []string `yaml:"warning_list"`
}

// WriteYAML writes a list with one document per report.
func WriteYAML(w io.Writer, reports ...Report) error {
	docs := make([]yamlReport, len(reports))
	for i, r := range reports {
		warnings := r.Summary.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		docs[i] = yamlReport{
			File:      r.Label,
			Cancelled: r.Cancelled,
			Summary: yamlSummary{
				Verified:    r.Summary.CountValidated,
				Invalid:     r.Summary.CountInvalid,
				NotFound:    r.Summary.CountNotFound,
				Skipped:     r.Summary.CountSkipped,
				Warnings:    r.Summary.CountWarnings(),
				WarningList: warnings,
			},
			Results: r.Rows(),
		}
		if r.Duration > 0 {
			docs[i].Duration = r.Duration.String()
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(docs); err != nil {
		return fmt.Errorf("encode yaml report: %w", err)
	}
	return enc.Close()
}

// WriteParquet writes one row per reference across all reports.
func WriteParquet(w io.Writer, reports ...Report) error {
	pw := parquet.NewGenericWriter[Row](w)
	for _, r := range reports {
		rows := r.Rows()
		if len(rows) == 0 {
			continue
		}
		if _, err := pw.Write(rows); err != nil {
			_ = pw.Close()
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// WriteText prints the human-readable summary: counts, the warning list and
// one explanation block per reference.
func WriteText(w io.Writer, reports ...Report) error {
	ew := &errWriter{w: w}
	for i, r := range reports {
		if i > 0 {
			ew.printf("--------------------------------------------------\n")
		}
		if r.Label != "" {
			ew.printf("Checking file: %s\n", r.Label)
		}
		ew.printf("%d references verified, %d warnings.\n", r.Summary.CountValidated, r.Summary.CountWarnings())
		if r.Summary.CountSkipped > 0 {
			ew.printf("%d references skipped.\n", r.Summary.CountSkipped)
		}
		if r.Cancelled {
			ew.printf("Verification was cancelled before every reference was checked.\n")
		}
		if len(r.Summary.Warnings) > 0 {
			ew.printf("\nWarning List:\n\n")
			for _, item := range r.Summary.Warnings {
				ew.printf("%s\n", item)
			}
		}
		ew.printf("\nExplanation:\n\n")
		for _, row := range r.Rows() {
			ew.printf("Reference: %s\nStatus: %s\nExplanation: %s\n\n", row.RawText, row.Status, row.Explanation)
		}
	}
	return ew.err
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// Totals sums the summaries of several reports.
func Totals(reports ...Report) domain.Summary {
	var total domain.Summary
	for _, r := range reports {
		total.CountValidated += r.Summary.CountValidated
		total.CountInvalid += r.Summary.CountInvalid
		total.CountNotFound += r.Summary.CountNotFound
		total.CountSkipped += r.Summary.CountSkipped
		total.Warnings = append(total.Warnings, r.Summary.Warnings...)
	}
	if total.Warnings == nil {
		total.Warnings = []string{}
	}
	return total
}
