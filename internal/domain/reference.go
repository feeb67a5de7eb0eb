package domain

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ReferenceType classifies a parsed citation.
type ReferenceType string

const (
	ReferenceTypeAcademic ReferenceType = "academic"
	ReferenceTypeWebsite  ReferenceType = "website"
	ReferenceTypeOther    ReferenceType = "other"
)

// ParseReferenceType maps the parser vocabulary onto a ReferenceType.
// Unknown or empty values are treated as academic, which is the stricter path.
func ParseReferenceType(s string) ReferenceType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "website", "web", "non_academic_website", "webpage":
		return ReferenceTypeWebsite
	case "other", "software", "dataset", "report":
		return ReferenceTypeOther
	default:
		return ReferenceTypeAcademic
	}
}

// IsBibliographic returns true when the reference should be checked against
// bibliographic databases rather than the open web.
func (t ReferenceType) IsBibliographic() bool {
	return t == ReferenceTypeAcademic || t == ""
}

// ReferenceEntry is one parsed citation. It is treated as immutable once constructed.
type ReferenceEntry struct {
	Title   string        `json:"title" yaml:"title" validate:"max=2000"`
	Authors []string      `json:"authors,omitempty" yaml:"authors,omitempty" validate:"max=200,dive,max=300"`
	Year    *int          `json:"year,omitempty" yaml:"year,omitempty" validate:"omitempty,min=1000,max=2999"`
	DOI     string        `json:"doi,omitempty" yaml:"doi,omitempty" validate:"max=300"`
	URL     string        `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,max=2048"`
	Type    ReferenceType `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=academic website other"`
	RawText string        `json:"raw_text" yaml:"raw_text" validate:"required,max=10000"`
}

// HasTitle reports whether the entry carries a non-blank title.
func (r ReferenceEntry) HasTitle() bool {
	return strings.TrimSpace(r.Title) != ""
}

// HasDOI reports whether the entry carries a non-blank DOI.
func (r ReferenceEntry) HasDOI() bool {
	return strings.TrimSpace(r.DOI) != ""
}

// arxivIDPattern finds a new-style arXiv identifier cited in free text,
// e.g. "arXiv:1706.03762v5" or "arxiv.org/abs/2301.12345".
var arxivIDPattern = regexp.MustCompile(`(?i)arxiv(?:\.org/abs/|\s*:\s*|\s+)(\d{4}\.\d{4,5})(?:v\d+)?`)

// ArXivID returns the first arXiv identifier cited in the raw text, without
// its version suffix, or "".
func (r ReferenceEntry) ArXivID() string {
	m := arxivIDPattern.FindStringSubmatch(r.RawText)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// IsVerifiable returns false for entries that carry neither a title nor a DOI.
func (r ReferenceEntry) IsVerifiable() bool {
	return r.HasTitle() || r.HasDOI()
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func referenceValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks structural constraints on the entry.
// A missing title is not a validation failure; the engine reports such entries as skipped.
func (r ReferenceEntry) Validate() error {
	if err := referenceValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return NewValidationError(fe.Field(), "failed "+fe.Tag()+" constraint")
		}
		return NewValidationError("reference", err.Error())
	}
	if strings.TrimSpace(r.RawText) == "" {
		return NewValidationError("raw_text", "must not be blank")
	}
	return nil
}

// Normalized returns a copy with trimmed fields and a defaulted type.
func (r ReferenceEntry) Normalized() ReferenceEntry {
	out := r
	out.Title = strings.TrimSpace(r.Title)
	out.DOI = strings.TrimSpace(r.DOI)
	out.URL = strings.TrimSpace(r.URL)
	out.RawText = strings.TrimSpace(r.RawText)
	if out.Type == "" {
		out.Type = ReferenceTypeAcademic
	}
	if len(r.Authors) > 0 {
		authors := make([]string, 0, len(r.Authors))
		for _, a := range r.Authors {
			if a = strings.TrimSpace(a); a != "" {
				authors = append(authors, a)
			}
		}
		out.Authors = authors
	}
	return out
}

// CandidateRecord is one result returned by a source for a query.
type CandidateRecord struct {
	Title   string     `json:"title"`
	Authors []string   `json:"authors,omitempty"`
	DOI     string     `json:"doi,omitempty"`
	Source  SourceType `json:"source"`
	URL     string     `json:"url,omitempty"`

	// AuthorsTruncated is set when the source lists only the first authors.
	AuthorsTruncated bool `json:"authors_truncated,omitempty"`
}

// HasDOI reports whether the candidate carries a DOI.
func (c CandidateRecord) HasDOI() bool {
	return strings.TrimSpace(c.DOI) != ""
}
