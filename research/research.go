// Package research turns source URLs into markdown research notes for the
// writing loop. A page is fetched with a bounded client, boiled down to
// its article content, and converted to GitHub-flavored markdown. Notes
// feed the agent's document memory; nothing here talks to the registry.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Note is one collected research source, ready to cite.
type Note struct {
	// ID uniquely identifies this note (format: note-{uuid}).
	ID string `json:"id"`

	// URL is where the note came from.
	URL string `json:"url"`

	// Title is the article title.
	Title string `json:"title"`

	// Markdown is the extracted article content.
	Markdown string `json:"markdown"`

	// WordCount counts the words in Markdown.
	WordCount int `json:"word_count"`

	// Retrieved is when the source was fetched.
	Retrieved time.Time `json:"retrieved"`
}

// Service collects research notes from the web.
type Service struct {
	fetcher   *Fetcher
	converter *Converter
	logger    *slog.Logger
}

// NewService creates a research service. Zero config fields fall back to
// the fetcher defaults.
func NewService(cfg FetchConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		fetcher:   NewFetcher(cfg),
		converter: NewConverter(),
		logger:    logger,
	}
}

// Collect fetches a source URL and returns it as a markdown note.
func (s *Service) Collect(ctx context.Context, rawURL string) (*Note, error) {
	body, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	result, err := s.converter.Convert(body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", rawURL, err)
	}

	note := &Note{
		ID:        "note-" + uuid.NewString(),
		URL:       rawURL,
		Title:     result.Title,
		Markdown:  result.Markdown,
		WordCount: len(strings.Fields(result.Markdown)),
		Retrieved: time.Now().UTC(),
	}

	s.logger.Info("collected research note",
		"url", rawURL,
		"title", note.Title,
		"words", note.WordCount)
	return note, nil
}
