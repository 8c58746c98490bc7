package extraction

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/clindoc/internal/core"
)

func extractText(_ context.Context, req Request) core.ExtractionResult {
	data := req.Data
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "\uFFFD"))
	}
	text := strings.TrimPrefix(string(data), "\uFEFF")
	return core.Ok(normalizeText(text), 1.0, "text")
}

// normalizeText unifies line endings, trims trailing spaces and collapses runs
// of blank lines.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t\f\v")
		if l == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
