package enrich

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

const (
	defaultOpenLibraryURL = "https://openlibrary.org"
	defaultGoogleBooksURL = "https://www.googleapis.com/books/v1"
)

// OpenLibraryProvider looks items up in the Open Library books API by ISBN.
type OpenLibraryProvider struct {
	baseURL string
	client  *http.Client
}

// NewOpenLibrary creates an Open Library provider. An empty baseURL uses the public API.
func NewOpenLibrary(baseURL string, client *http.Client) *OpenLibraryProvider {
	if baseURL == "" {
		baseURL = defaultOpenLibraryURL
	}
	if client == nil {
		client = defaultHTTPClient(0)
	}
	return &OpenLibraryProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (p *OpenLibraryProvider) Kind() Kind { return OpenLibrary }

type openLibraryBook struct {
	Title         string `json:"title"`
	NumberOfPages int    `json:"number_of_pages"`
	Authors       []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Publishers []struct {
		Name string `json:"name"`
	} `json:"publishers"`
	Subjects []struct {
		Name string `json:"name"`
	} `json:"subjects"`
	Cover struct {
		Small  string `json:"small"`
		Medium string `json:"medium"`
		Large  string `json:"large"`
	} `json:"cover"`
}

// Lookup fetches bibliographic data. Items without an ISBN are reported as not found.
func (p *OpenLibraryProvider) Lookup(ctx context.Context, id Identifiers) (Metadata, error) {
	const op = "openlibrary lookup"
	if id.ISBN == "" {
		return Metadata{}, apperr.New(apperr.KindNotFound, op, "isbn required")
	}

	bibkey := "ISBN:" + id.ISBN
	q := url.Values{}
	q.Set("bibkeys", bibkey)
	q.Set("format", "json")
	q.Set("jscmd", "data")

	var payload map[string]openLibraryBook
	if err := getJSON(ctx, p.client, p.baseURL+"/api/books?"+q.Encode(), op, &payload); err != nil {
		return Metadata{}, err
	}

	book, ok := payload[bibkey]
	if !ok {
		return Metadata{}, apperr.New(apperr.KindNotFound, op, "no record for "+bibkey)
	}

	md := Metadata{
		Title:    book.Title,
		Pages:    book.NumberOfPages,
		CoverURL: firstNonEmpty(book.Cover.Large, book.Cover.Medium, book.Cover.Small),
	}
	names := make([]string, 0, len(book.Authors))
	for _, a := range book.Authors {
		names = append(names, a.Name)
	}
	md.Author = strings.Join(names, ", ")
	names = names[:0]
	for _, pub := range book.Publishers {
		names = append(names, pub.Name)
	}
	md.Publisher = strings.Join(names, ", ")
	if len(book.Subjects) > 0 {
		md.Genre = book.Subjects[0].Name
	}
	return md, nil
}

// GoogleBooksProvider looks items up in the Google Books volumes API.
type GoogleBooksProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewGoogleBooks creates a Google Books provider. The API key is optional.
func NewGoogleBooks(baseURL, apiKey string, client *http.Client) *GoogleBooksProvider {
	if baseURL == "" {
		baseURL = defaultGoogleBooksURL
	}
	if client == nil {
		client = defaultHTTPClient(0)
	}
	return &GoogleBooksProvider{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

func (p *GoogleBooksProvider) Kind() Kind { return GoogleBooks }

type googleVolumes struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title       string   `json:"title"`
			Authors     []string `json:"authors"`
			Publisher   string   `json:"publisher"`
			Description string   `json:"description"`
			PageCount   int      `json:"pageCount"`
			Categories  []string `json:"categories"`
			PrintType   string   `json:"printType"`
			ImageLinks  struct {
				Thumbnail      string `json:"thumbnail"`
				SmallThumbnail string `json:"smallThumbnail"`
			} `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// Lookup searches by ISBN when present, otherwise by title and author.
func (p *GoogleBooksProvider) Lookup(ctx context.Context, id Identifiers) (Metadata, error) {
	const op = "googlebooks lookup"

	var query string
	switch {
	case id.ISBN != "":
		query = "isbn:" + id.ISBN
	case id.Title != "":
		query = "intitle:" + id.Title
		if id.Author != "" {
			query += " inauthor:" + id.Author
		}
	default:
		return Metadata{}, apperr.New(apperr.KindNotFound, op, "isbn or title required")
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("maxResults", "1")
	if p.apiKey != "" {
		q.Set("key", p.apiKey)
	}

	var payload googleVolumes
	if err := getJSON(ctx, p.client, p.baseURL+"/volumes?"+q.Encode(), op, &payload); err != nil {
		return Metadata{}, err
	}
	if len(payload.Items) == 0 {
		return Metadata{}, apperr.New(apperr.KindNotFound, op, "no volumes for "+query)
	}

	info := payload.Items[0].VolumeInfo
	md := Metadata{
		Title:       info.Title,
		Author:      strings.Join(info.Authors, ", "),
		Publisher:   info.Publisher,
		Description: info.Description,
		Pages:       info.PageCount,
		CoverURL:    firstNonEmpty(info.ImageLinks.Thumbnail, info.ImageLinks.SmallThumbnail),
	}
	if len(info.Categories) > 0 {
		md.Genre = info.Categories[0]
	}
	return md, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
