// Package extract turns raw HTML into an article.Article using readability
// for the main body and goquery for document metadata.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

var noiseSelectors = "script, style, noscript, template, iframe, svg"

var publishedSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[name="article:published_time"]`,
	`meta[itemprop="datePublished"]`,
	`meta[name="date"]`,
	`meta[name="pubdate"]`,
}

var fallbackBodySelectors = []string{
	`[itemprop="articleBody"]`,
	"article",
	"main",
	"body",
}

// FromHTML extracts an article from body fetched from pageURL. It returns an
// error wrapping article.ErrParse when no text can be recovered.
func FromHTML(body []byte, pageURL string) (*article.Article, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: page url: %v", article.ErrParse, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", article.ErrParse, err)
	}

	meta := readMeta(doc)
	doc.Find(noiseSelectors).Remove()

	a := &article.Article{
		Lang:          meta.lang,
		Dir:           meta.dir,
		PublishedTime: meta.published,
	}

	cleaned, err := doc.Html()
	if err == nil {
		if parsed, rerr := readability.FromReader(strings.NewReader(cleaned), u); rerr == nil {
			a.Title = strings.TrimSpace(parsed.Title)
			a.Byline = strings.TrimSpace(parsed.Byline)
			a.Content = strings.TrimSpace(parsed.Content)
			a.TextContent = CleanText(parsed.TextContent)
			a.Excerpt = strings.TrimSpace(parsed.Excerpt)
			a.SiteName = strings.TrimSpace(parsed.SiteName)
		}
	}

	if a.TextContent == "" {
		fallback(doc, a)
	}
	if a.Title == "" {
		a.Title = meta.title
	}
	if a.SiteName == "" {
		a.SiteName = meta.siteName
	}
	if a.SiteName == "" {
		a.SiteName = strings.ToLower(u.Hostname())
	}
	if a.Byline == "" {
		a.Byline = meta.author
	}

	a.Normalize()
	if !a.Cacheable() {
		return nil, fmt.Errorf("%w: %s", article.ErrParse, pageURL)
	}
	return a, nil
}

type docMeta struct {
	title     string
	siteName  string
	author    string
	published string
	lang      string
	dir       string
}

func readMeta(doc *goquery.Document) docMeta {
	html := doc.Find("html").First()
	m := docMeta{
		lang: strings.TrimSpace(html.AttrOr("lang", "")),
		dir:  strings.ToLower(strings.TrimSpace(html.AttrOr("dir", ""))),
	}
	m.title = metaContent(doc, `meta[property="og:title"]`)
	if m.title == "" {
		m.title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	m.siteName = metaContent(doc, `meta[property="og:site_name"]`)
	m.author = metaContent(doc, `meta[name="author"]`)
	for _, sel := range publishedSelectors {
		if m.published = metaContent(doc, sel); m.published != "" {
			break
		}
	}
	if m.published == "" {
		m.published = strings.TrimSpace(doc.Find("time[datetime]").First().AttrOr("datetime", ""))
	}
	return m
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
}

// fallback fills the body from the first semantic container that carries
// paragraph text.
func fallback(doc *goquery.Document, a *article.Article) {
	for _, sel := range fallbackBodySelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		var parts []string
		node.Find("p").Each(func(_ int, p *goquery.Selection) {
			if text := strings.Join(strings.Fields(p.Text()), " "); text != "" {
				parts = append(parts, text)
			}
		})
		if len(parts) == 0 {
			continue
		}
		a.TextContent = CleanText(strings.Join(parts, "\n\n"))
		var content strings.Builder
		for _, p := range parts {
			content.WriteString("<p>")
			content.WriteString(EscapeHTML(p))
			content.WriteString("</p>")
		}
		a.Content = content.String()
		return
	}
}

// CleanText collapses runs of whitespace inside lines and squeezes blank
// lines so lengths compare text rather than markup indentation.
func CleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&#34;")

// EscapeHTML escapes text for inclusion in generated markup.
func EscapeHTML(s string) string { return htmlEscaper.Replace(s) }
