package bibliography

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/helixir/citation-verification-service/internal/config"
	"github.com/helixir/citation-verification-service/internal/domain"
)

// Parser splits bibliography text into reference entries.
type Parser interface {
	Parse(ctx context.Context, text string) ([]domain.ReferenceEntry, error)
}

const splitPrompt = `Process a reference list extracted from a PDF, where formatting may be corrupted.
Follow these steps to clean and extract key information:
1. Normalisation: fix spacing errors, line breaks and punctuation.
2. Extraction: for each reference, extract:
- title: full title in title case
- authors: author names in citation order (if the author is an organization, use the organization name)
- doi: include if explicitly stated, otherwise leave blank
- url: include if explicitly stated, otherwise leave blank
- year: 4-digit publication year, 0 if absent
- type: one of journal_article, preprint, conference_paper, book, book_chapter, non_academic_website. If the author is an organization rather than a person, use non_academic_website
- bib: the normalised reference, in one line

`

// referenceSchema constrains the model output to a list of records.
var referenceSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":   {Type: genai.TypeString},
			"authors": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"doi":     {Type: genai.TypeString},
			"url":     {Type: genai.TypeString},
			"year":    {Type: genai.TypeInteger},
			"type": {
				Type: genai.TypeString,
				Enum: []string{"journal_article", "preprint", "conference_paper", "book", "book_chapter", "non_academic_website"},
			},
			"bib": {Type: genai.TypeString},
		},
		Required: []string{"title", "authors", "doi", "url", "year", "type", "bib"},
	},
}

// extractedReference is one record returned by the model.
type extractedReference struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	DOI     string   `json:"doi"`
	URL     string   `json:"url"`
	Year    int      `json:"year"`
	Type    string   `json:"type"`
	Bib     string   `json:"bib"`
}

// contentGenerator is satisfied by *genai.GenerativeModel.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiParser splits bibliographies with Google Gemini.
type GeminiParser struct {
	client  *genai.Client
	model   contentGenerator
	timeout time.Duration
	logger  zerolog.Logger
}

var _ Parser = (*GeminiParser)(nil)

// NewGeminiParser creates a Gemini-backed parser. Close releases the client.
func NewGeminiParser(ctx context.Context, cfg config.GeminiConfig, logger zerolog.Logger) (*GeminiParser, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewValidationError("parser.gemini.api_key", fmt.Sprintf("%s_PARSER_GEMINI_API_KEY environment variable not set", config.EnvPrefix))
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create new gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = referenceSchema

	p := newGeminiParser(model, cfg.Timeout, logger)
	p.client = client
	return p, nil
}

func newGeminiParser(model contentGenerator, timeout time.Duration, logger zerolog.Logger) *GeminiParser {
	return &GeminiParser{
		model:   model,
		timeout: timeout,
		logger:  logger.With().Str("component", "gemini_parser").Logger(),
	}
}

// Parse sends the bibliography text to Gemini and decodes the returned records.
func (p *GeminiParser) Parse(ctx context.Context, text string) ([]domain.ReferenceEntry, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewValidationError("bibliography", "text is empty")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.model.GenerateContent(ctx, genai.Text(splitPrompt+text))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	raw, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	entries, err := decodeExtracted(raw)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Int("references", len(entries)).
		Int("input_chars", len(text)).
		Dur("duration", time.Since(start)).
		Msg("bibliography split")
	return entries, nil
}

// Close releases the underlying client.
func (p *GeminiParser) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned from Gemini")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("empty content returned from Gemini")
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("unexpected response format from Gemini")
	}
	return b.String(), nil
}

// decodeExtracted converts the model's JSON into reference entries.
func decodeExtracted(raw string) ([]domain.ReferenceEntry, error) {
	raw = stripCodeFence(raw)

	var records []extractedReference
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode Gemini response: %w", err)
	}

	entries := make([]domain.ReferenceEntry, 0, len(records))
	for _, rec := range records {
		entry := domain.ReferenceEntry{
			Title:   rec.Title,
			Authors: rec.Authors,
			DOI:     rec.DOI,
			URL:     rec.URL,
			Type:    domain.ParseReferenceType(rec.Type),
			RawText: rec.Bib,
		}
		if rec.Year > 0 {
			year := rec.Year
			entry.Year = &year
		}
		if strings.TrimSpace(entry.RawText) == "" {
			entry.RawText = rec.Title
		}
		if strings.TrimSpace(entry.RawText) == "" {
			continue
		}
		entries = append(entries, entry.Normalized())
	}
	return entries, nil
}

// stripCodeFence removes a surrounding ```json fence some models add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
