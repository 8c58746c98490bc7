// Command batch processes stored documents and prints the batch report as
// JSON. Document ids come from -ids or, one per line, from stdin.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/markdave123-py/clindoc/internal/app"
	"github.com/markdave123-py/clindoc/internal/config"
	"github.com/markdave123-py/clindoc/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "batch:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		idList   = flag.String("ids", "", "comma-separated document ids (default: read stdin)")
		workers  = flag.Int("workers", 0, "worker count (default: BATCH_WORKERS)")
		progress = flag.Bool("progress", false, "log each resolved document")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if telemetry.Enabled() {
		shutdown, err := telemetry.Setup(ctx, "clindoc-batch")
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(flushCtx)
		}()
	}

	ids, err := documentIDs(*idList, os.Stdin)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no document ids given")
	}

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	var onProgress func(completed, total int, id string)
	if *progress {
		onProgress = func(completed, total int, id string) {
			logger.Info("document resolved", "document_id", id, "completed", completed, "total", total)
		}
	}

	report, err := application.Orchestrator.ProcessBatch(ctx, ids, *workers, onProgress)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func documentIDs(flagValue string, stdin io.Reader) ([]string, error) {
	var ids []string
	if flagValue != "" {
		for _, id := range strings.Split(flagValue, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}

	sc := bufio.NewScanner(stdin)
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" && !strings.HasPrefix(id, "#") {
			ids = append(ids, id)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}
	return ids, nil
}
