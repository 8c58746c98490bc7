package ingestion_engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// ChunkConfig tunes enrichment.
//
// TargetTokens:  approximate tokens per chunk.
// OverlapTokens: tokens retained from the tail of the previous chunk as the seed of the next.
type ChunkConfig struct {
	TargetTokens  int
	OverlapTokens int
}

// DefaultChunkConfig matches the downstream screening matcher's window.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{TargetTokens: 200, OverlapTokens: 20}
}

// chunk is the internal representation passed between enrichment stages.
//
// Pos:      stable, zero-based position of the chunk inside the document.
// Text:     chunk content (built from one or more fragments).
// TokenCnt: approximate token count (used for overlap math).
type chunk struct {
	Pos      int
	Text     string
	TokenCnt int
}

// enrich splits redacted text into token-bounded chunks. The stages run
// under one errgroup so a cancelled ctx stops all of them.
func enrich(ctx context.Context, text string, cfg ChunkConfig) ([]chunk, error) {
	g, gctx := errgroup.WithContext(ctx)

	fragCh := streamFragments(gctx, g, text)
	chunkCh := streamChunk(gctx, g, fragCh, cfg.TargetTokens, cfg.OverlapTokens)

	var out []chunk
	g.Go(func() error {
		for ch := range chunkCh {
			out = append(out, ch)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// streamFragments emits the non-blank lines of text.
func streamFragments(ctx context.Context, g *errgroup.Group, text string) <-chan string {
	out := make(chan string, 32)

	g.Go(func() error {
		defer close(out)
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	return out
}

// streamChunk groups incoming fragments into token-bounded chunks with optional overlap.
func streamChunk(
	ctx context.Context,
	g *errgroup.Group,
	frags <-chan string,
	targetTokens int,
	overlapTokens int,
) <-chan chunk {
	out := make(chan chunk, 8)

	g.Go(func() error {
		defer close(out)

		var (
			buf    []string
			tokSum int
			pos    int
			// fresh counts the tokens added since the last flush, so a tail
			// made only of overlap is not emitted twice.
			fresh int
		)

		flush := func() error {
			if fresh == 0 {
				return nil
			}
			ch := chunk{Pos: pos, Text: strings.Join(buf, "\n"), TokenCnt: tokSum}
			pos++

			select {
			case out <- ch:
			case <-ctx.Done():
				return ctx.Err()
			}

			// Keep a tail whose token sum is about overlapTokens, unless that
			// tail would be the whole buffer.
			var keep []string
			if overlapTokens > 0 {
				remain := overlapTokens
				for j := len(buf) - 1; j > 0 && remain > 0; j-- {
					keep = append([]string{buf[j]}, keep...)
					remain -= approxTokens(buf[j])
				}
			}
			buf = keep
			tokSum = 0
			for _, s := range buf {
				tokSum += approxTokens(s)
			}
			fresh = 0
			return nil
		}

		for frag := range frags {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			t := approxTokens(frag)
			buf = append(buf, frag)
			tokSum += t
			fresh += t

			if tokSum >= targetTokens {
				if err := flush(); err != nil {
					return err
				}
			}
		}

		return flush()
	})

	return out
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
