package bypass

import (
	"bytes"
	"strings"
)

// ShellDetector recognizes HTML documents that are mostly an application
// shell: the article text is rendered client-side, so direct extraction
// yields little or nothing.
type ShellDetector struct {
	BodyLengthThreshold int
}

// NewShellDetector creates a detector. A zero threshold uses 2048 bytes.
func NewShellDetector(threshold int) *ShellDetector {
	if threshold <= 0 {
		threshold = 2048
	}
	return &ShellDetector{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

var paywallMarkers = [][]byte{
	[]byte("paywall"),
	[]byte("subscriber-only"),
	[]byte("meteredcontent"),
	[]byte("piano-"),
}

// ScriptGated reports whether body looks like a client-rendered shell.
func (d *ShellDetector) ScriptGated(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	if len(body) < d.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// Metered reports whether body carries common paywall or metering markup.
func (d *ShellDetector) Metered(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, marker := range paywallMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0

	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			// Unterminated tag swallows the rest of the document.
			covered += total - start
			break
		}
		bodyStart := start + tagEnd + 1

		next := total
		if end := strings.Index(lower[bodyStart:], closeTag); end != -1 {
			next = bodyStart + end + len(closeTag)
		}

		covered += next - start
		pos = next
	}

	return covered*100/total >= 25
}
