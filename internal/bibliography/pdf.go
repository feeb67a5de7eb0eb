package bibliography

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// DefaultSectionKeywords are the headings that start a bibliography.
var DefaultSectionKeywords = []string{"Reference", "Bibliography", "Works Cited"}

// ErrNoBibliography is returned when no bibliography heading is found.
var ErrNoBibliography = fmt.Errorf("no bibliography section found: %w", domain.ErrInvalidInput)

// ExtractPDFText returns the plain text of every page, one page per line block.
func ExtractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open PDF %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Unreadable pages are skipped; the bibliography is usually near the end.
			continue
		}
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// BibliographySection returns text from the last occurrence of any keyword
// onward. Matching is case-insensitive. An empty keyword list uses
// DefaultSectionKeywords.
func BibliographySection(text string, keywords []string) (string, error) {
	if len(keywords) == 0 {
		keywords = DefaultSectionKeywords
	}

	lowered := asciiLower(text)
	last := -1
	for _, kw := range keywords {
		kw = asciiLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if idx := strings.LastIndex(lowered, kw); idx > last {
			last = idx
		}
	}
	if last == -1 {
		return "", fmt.Errorf("%w using keywords: %s", ErrNoBibliography, strings.Join(keywords, ", "))
	}
	return text[last:], nil
}

// asciiLower lowercases ASCII letters only, so byte offsets into the result
// are valid offsets into s.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// LoadPDF extracts the bibliography of a PDF and splits it into references.
func LoadPDF(ctx context.Context, path string, parser Parser, keywords []string) ([]domain.ReferenceEntry, error) {
	if parser == nil {
		return nil, domain.NewValidationError("parser", "a bibliography parser is required for PDF input")
	}
	text, err := ExtractPDFText(path)
	if err != nil {
		return nil, err
	}
	section, err := BibliographySection(text, keywords)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	entries, err := parser.Parse(ctx, section)
	if err != nil {
		return nil, fmt.Errorf("parse bibliography of %s: %w", filepath.Base(path), err)
	}
	return prepare(entries)
}

// Load reads references from path, dispatching on the file extension.
// parser is only needed for PDF input.
func Load(ctx context.Context, path string, parser Parser, keywords []string) ([]domain.ReferenceEntry, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if format == FormatPDF {
		return LoadPDF(ctx, path, parser, keywords)
	}
	return LoadFile(path)
}

// ExpandInputs resolves command line inputs into files. A directory expands
// to the PDF files directly inside it, sorted by name.
func ExpandInputs(inputs []string) ([]string, error) {
	var files []string
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, domain.NewNotFoundError("input", input)
			}
			return nil, fmt.Errorf("stat %s: %w", input, err)
		}
		if !info.IsDir() {
			files = append(files, input)
			continue
		}

		entries, err := os.ReadDir(input)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", input, err)
		}
		var pdfs []string
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				pdfs = append(pdfs, filepath.Join(input, e.Name()))
			}
		}
		sort.Strings(pdfs)
		files = append(files, pdfs...)
	}
	return files, nil
}
