package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/markdave123-py/clindoc/internal/core"
)

// Step is one link of a fallback chain. A step that cannot produce text
// returns an error wrapping core.ErrTryNext; any other error ends the chain.
type Step struct {
	Name string
	Run  func(ctx context.Context, req Request) (core.ExtractionResult, error)
}

// Chain tries its steps in order and returns the first success.
type Chain []Step

func (c Chain) Extract(ctx context.Context, req Request) core.ExtractionResult {
	var attempts []string
	for _, step := range c {
		if err := ctx.Err(); err != nil {
			return core.TimedOut(fmt.Sprintf("cancelled before %s: %v", step.Name, err))
		}

		res, err := step.Run(ctx, req)
		if err == nil {
			return res
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", step.Name, err))
		if !errors.Is(err, core.ErrTryNext) {
			break
		}
	}
	return core.Rejected(core.OutcomeToolError, "all extractors failed ("+strings.Join(attempts, "; ")+")")
}

// tryNext wraps err so the chain moves on.
func tryNext(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrTryNext, fmt.Sprintf(format, args...))
}
