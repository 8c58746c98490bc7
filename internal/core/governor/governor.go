// Package governor measures page counts cheaply, before any page is rendered,
// and applies the page ceiling.
package governor

import (
	"bytes"
	"regexp"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/markdave123-py/clindoc/internal/core"
)

const (
	MethodMetadata = "metadata"
	MethodPartial  = "partial-open"
	MethodObjects  = "object-scan"
	MethodNone     = "undetermined"
)

var (
	pagesTypeCount = regexp.MustCompile(`/Type\s*/Pages\b[^>]*?/Count\s+(\d+)`)
	pagesCountType = regexp.MustCompile(`/Count\s+(\d+)[^>]*?/Type\s*/Pages\b`)
	pageObject     = regexp.MustCompile(`/Type\s*/Page\b`)
)

// Estimate returns the page profile of data. Only page-oriented formats are
// measured; every other format yields an empty profile that never exceeds.
//
// A nil PageCount is not a pass: the PDF strategy re-checks the ceiling once
// it has opened the document.
func Estimate(data []byte, format core.Format, maxPages int) core.PageProfile {
	if !format.IsPageOriented() {
		return core.PageProfile{Method: MethodNone}
	}

	count, method := count(data)
	profile := core.PageProfile{Method: method}
	if count > 0 {
		profile.PageCount = &count
		profile.ExceedsLimit = count > maxPages
	}
	return profile
}

func count(data []byte) (int, string) {
	if n := metadataCount(data); n > 0 {
		return n, MethodMetadata
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if n, err := api.PageCount(bytes.NewReader(data), conf); err == nil && n > 0 {
		return n, MethodPartial
	}

	if n := len(pageObject.FindAllIndex(data, -1)); n > 0 {
		return n, MethodObjects
	}
	return 0, MethodNone
}

// metadataCount reads /Count from the uncompressed page tree. The root node
// carries the largest count, so the maximum across /Pages nodes wins.
func metadataCount(data []byte) int {
	best := 0
	for _, re := range []*regexp.Regexp{pagesTypeCount, pagesCountType} {
		for _, m := range re.FindAllSubmatch(data, -1) {
			n, err := strconv.Atoi(string(m[1]))
			if err == nil && n > best {
				best = n
			}
		}
	}
	return best
}
