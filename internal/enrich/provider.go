// Package enrich resolves item metadata through an ordered chain of external
// providers. Each provider sits behind its own circuit breaker and retry
// ladder, and the chain always yields a result, degraded when every
// provider fails.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind names a metadata provider.
type Kind string

const (
	OpenLibrary Kind = "openlibrary"
	GoogleBooks Kind = "googlebooks"
	Gemini      Kind = "gemini"
	Claude      Kind = "claude"
	OpenAI      Kind = "openai"
)

var knownKinds = []Kind{OpenLibrary, GoogleBooks, Gemini, Claude, OpenAI}

// IsAI reports whether the provider is a language model that answers free text.
func (k Kind) IsAI() bool {
	return k == Gemini || k == Claude || k == OpenAI
}

// ParseKind resolves a provider name, case-insensitively.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, k := range knownKinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown enrichment provider %q", name)
}

// ParseOrder validates a provider order list once at startup.
func ParseOrder(names []string) ([]Kind, error) {
	order := make([]Kind, 0, len(names))
	seen := make(map[Kind]bool, len(names))
	for _, name := range names {
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, fmt.Errorf("enrichment provider %q listed twice", k)
		}
		seen[k] = true
		order = append(order, k)
	}
	return order, nil
}

// DefaultOrder is catalog APIs first, then language models.
func DefaultOrder() []Kind {
	out := make([]Kind, len(knownKinds))
	copy(out, knownKinds)
	return out
}

// Identifiers are the lookup keys for one item.
type Identifiers struct {
	ISBN   string
	UPC    string
	ASIN   string
	Title  string
	Author string
}

// Empty reports whether there is nothing to look up.
func (id Identifiers) Empty() bool {
	return id.ISBN == "" && id.UPC == "" && id.ASIN == "" && id.Title == ""
}

// Key is a normalized cache key.
func (id Identifiers) Key() string {
	norm := func(s string) string { return strings.ToLower(strings.Join(strings.Fields(s), " ")) }
	return strings.Join([]string{
		norm(id.ISBN), norm(id.UPC), norm(id.ASIN), norm(id.Title), norm(id.Author),
	}, "|")
}

// Describe renders the identifiers for a language model prompt.
func (id Identifiers) Describe() string {
	var parts []string
	if id.ISBN != "" {
		parts = append(parts, "ISBN: "+id.ISBN)
	}
	if id.UPC != "" {
		parts = append(parts, "UPC: "+id.UPC)
	}
	if id.ASIN != "" {
		parts = append(parts, "ASIN: "+id.ASIN)
	}
	if id.Title != "" {
		parts = append(parts, fmt.Sprintf("Title: %q", id.Title))
	}
	if id.Author != "" {
		parts = append(parts, "Author: "+id.Author)
	}
	return strings.Join(parts, ", ")
}

// Metadata is what providers contribute about an item.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Author      string `json:"author,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	Description string `json:"description,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Pages       int    `json:"pages,omitempty"`
	Format      string `json:"format,omitempty"`
	CoverURL    string `json:"cover_url,omitempty"`
}

// Usable reports whether the metadata identifies the item at all.
func (m Metadata) Usable() bool {
	return strings.TrimSpace(m.Title) != "" || strings.TrimSpace(m.Author) != ""
}

// Over returns m with blank fields filled from base.
func (m Metadata) Over(base Metadata) Metadata {
	pick := func(a, b string) string {
		if strings.TrimSpace(a) != "" {
			return a
		}
		return b
	}
	out := Metadata{
		Title:       pick(m.Title, base.Title),
		Author:      pick(m.Author, base.Author),
		Publisher:   pick(m.Publisher, base.Publisher),
		Description: pick(m.Description, base.Description),
		Genre:       pick(m.Genre, base.Genre),
		Format:      pick(m.Format, base.Format),
		CoverURL:    pick(m.CoverURL, base.CoverURL),
		Pages:       m.Pages,
	}
	if out.Pages <= 0 {
		out.Pages = base.Pages
	}
	return out
}

// Provider looks up metadata for one item.
type Provider interface {
	Kind() Kind
	Lookup(ctx context.Context, id Identifiers) (Metadata, error)
}

// Status is the outcome of an enrichment run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusDegraded  Status = "degraded"
	StatusFailed    Status = "failed"
)

// SourceManifest tags results built only from caller-supplied data.
const SourceManifest = "manifest"

// Attempt is one provider's contribution to a chain run.
type Attempt struct {
	Provider Kind          `json:"provider"`
	Calls    int           `json:"calls"`
	Skipped  bool          `json:"skipped,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Err      error         `json:"-"`
}

// Request is an enrichment input: identifiers plus whatever the caller
// already knows, used for degraded results.
type Request struct {
	Identifiers
	Known Metadata
}

// Result is the outcome of Chain.Enrich. It is never nil.
type Result struct {
	Metadata
	Source   string
	Status   Status
	Err      error
	Cached   bool
	Attempts []Attempt
}
