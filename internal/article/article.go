package article

import (
	"time"
	"unicode/utf16"
)

// Article is the canonical retrieved-content record.
type Article struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	TextContent   string `json:"textContent"`
	Length        int    `json:"length"`
	SiteName      string `json:"siteName"`
	Byline        string `json:"byline,omitempty"`
	PublishedTime string `json:"publishedTime,omitempty"`
	Lang          string `json:"lang,omitempty"`
	Dir           string `json:"dir,omitempty"`
	HTMLContent   string `json:"htmlContent,omitempty"`
	Excerpt       string `json:"excerpt,omitempty"`
}

// Normalize recomputes Length from TextContent so the two never disagree.
func (a *Article) Normalize() *Article {
	if a == nil {
		return nil
	}
	a.Length = TextLength(a.TextContent)
	return a
}

// TextLength counts s in UTF-16 code units, the unit browser clients use
// for string length. Characters outside the BMP count twice.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		n += max(utf16.RuneLen(r), 1)
	}
	return n
}

// Cacheable reports whether the article may be written to the cache.
func (a *Article) Cacheable() bool {
	return a != nil && a.TextContent != "" && a.Length > 0
}

// Consistent reports whether Length matches TextContent.
func (a *Article) Consistent() bool {
	return a != nil && a.Length == TextLength(a.TextContent)
}

// LengthOf returns the article length, or nil when no article is present.
func LengthOf(a *Article) *int {
	if a == nil {
		return nil
	}
	n := a.Length
	return &n
}

// Metadata is the listing projection of a cached article.
type Metadata struct {
	Key           string    `json:"key"`
	Source        Source    `json:"source"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	SiteName      string    `json:"siteName"`
	Length        int       `json:"length"`
	Byline        string    `json:"byline,omitempty"`
	PublishedTime string    `json:"publishedTime,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MetadataOf builds the listing projection for an article stored under key.
func MetadataOf(key string, src Source, url string, a *Article, at time.Time) Metadata {
	return Metadata{
		Key:           key,
		Source:        src,
		URL:           url,
		Title:         a.Title,
		SiteName:      a.SiteName,
		Length:        a.Length,
		Byline:        a.Byline,
		PublishedTime: a.PublishedTime,
		UpdatedAt:     at.UTC(),
	}
}

// BypassOutcome classifies whether a retrieval produced usable content.
type BypassOutcome string

const (
	// OutcomeSuccess means the retrieval produced non-empty content.
	OutcomeSuccess BypassOutcome = "success"
	// OutcomeBlocked means the retrieval failed or produced nothing.
	OutcomeBlocked BypassOutcome = "blocked"
)
