// Package bypass classifies retrieval outcomes and recognizes pages whose
// article body is gated behind client-side scripts.
package bypass

import "github.com/JakeFAU/fulltext-fetcher/internal/article"

// DefaultMinLength is the text length below which a successful retrieval is
// treated as truncated.
const DefaultMinLength = 500

// Classify maps a content length and error presence to a bypass outcome.
// A nil length means no content was produced.
func Classify(contentLength *int, hasError bool) article.BypassOutcome {
	if hasError || contentLength == nil || *contentLength == 0 {
		return article.OutcomeBlocked
	}
	return article.OutcomeSuccess
}

// ClassifyArticle classifies the result of a single source call.
func ClassifyArticle(a *article.Article, err error) article.BypassOutcome {
	return Classify(article.LengthOf(a), err != nil)
}

// Truncated reports whether a result should be skipped in favor of a slower
// source: it is blocked, or its text is shorter than minLength.
func Truncated(a *article.Article, err error, minLength int) bool {
	if ClassifyArticle(a, err) == article.OutcomeBlocked {
		return true
	}
	return a.Length < minLength
}
