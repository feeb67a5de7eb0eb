// Package bibliography turns user input into reference entries: structured
// JSON or YAML reference files, and PDF documents whose bibliography section
// is split into references by an LLM.
package bibliography

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// Supported input formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatPDF  = "pdf"
)

// DetectFormat returns the input format implied by the file extension.
func DetectFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".pdf":
		return FormatPDF, nil
	default:
		return "", domain.NewValidationError("path", fmt.Sprintf("unsupported file type %q (want .json, .yaml, .yml or .pdf)", filepath.Ext(path)))
	}
}

// referenceFile is the object form of a reference file.
type referenceFile struct {
	References []domain.ReferenceEntry `json:"references" yaml:"references"`
}

// LoadFile reads reference entries from a JSON or YAML file. The file holds
// either a list of entries or an object with a "references" list.
func LoadFile(path string) ([]domain.ReferenceEntry, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if format == FormatPDF {
		return nil, domain.NewValidationError("path", "PDF files must be parsed with a bibliography parser")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference file: %w", err)
	}

	entries, err := decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return prepare(entries)
}

func decode(data []byte, format string) ([]domain.ReferenceEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, domain.NewValidationError("references", "file is empty")
	}

	var entries []domain.ReferenceEntry
	switch format {
	case FormatJSON:
		if trimmed[0] == '{' {
			var file referenceFile
			if err := json.Unmarshal(trimmed, &file); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
			}
			return file.References, nil
		}
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(trimmed, &entries); err != nil {
			var file referenceFile
			if objErr := yaml.Unmarshal(trimmed, &file); objErr != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
			}
			return file.References, nil
		}
	}
	return entries, nil
}

// prepare normalizes entries, defaults a missing raw text to the title and
// validates every entry.
func prepare(entries []domain.ReferenceEntry) ([]domain.ReferenceEntry, error) {
	if len(entries) == 0 {
		return nil, domain.NewValidationError("references", "no references found")
	}

	out := make([]domain.ReferenceEntry, len(entries))
	for i, entry := range entries {
		if strings.TrimSpace(entry.RawText) == "" {
			entry.RawText = entry.Title
		}
		entry = entry.Normalized()
		if err := entry.Validate(); err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				return nil, domain.NewValidationError(fmt.Sprintf("references[%d].%s", i, ve.Field), ve.Message)
			}
			return nil, err
		}
		out[i] = entry
	}
	return out, nil
}
