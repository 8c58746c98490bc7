package extraction

import (
	"context"
	"html"
	"regexp"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/markdave123-py/clindoc/internal/core"
)

var blockEnd = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|tr|li|h[1-6]|table|section)>`)

// HTMLStrategy converts HTML to text with tables kept as pipe tables. When
// the converter fails or yields nothing, tags are stripped instead.
type HTMLStrategy struct {
	md    *converter.Converter
	strip *bluemonday.Policy
}

func NewHTMLStrategy() *HTMLStrategy {
	return &HTMLStrategy{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		strip: bluemonday.StrictPolicy(),
	}
}

func (s *HTMLStrategy) Extract(_ context.Context, req Request) core.ExtractionResult {
	if out, err := s.md.ConvertString(string(req.Data)); err == nil {
		if text := normalizeText(out); text != "" {
			return core.Ok(text, 1.0, "html")
		}
	}

	withBreaks := blockEnd.ReplaceAllString(string(req.Data), "$0\n")
	text := normalizeText(html.UnescapeString(s.strip.Sanitize(withBreaks)))
	return core.Ok(text, 0.9, "html-strip")
}
