// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/markdave123-py/clindoc/internal/audit"
	"github.com/markdave123-py/clindoc/internal/config"
	"github.com/markdave123-py/clindoc/internal/core"
	db "github.com/markdave123-py/clindoc/internal/core/database"
	"github.com/markdave123-py/clindoc/internal/core/extraction"
	"github.com/markdave123-py/clindoc/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/clindoc/internal/core/object-client"
	"github.com/markdave123-py/clindoc/internal/core/ocr/tesseract"
	"github.com/markdave123-py/clindoc/internal/services"
)

// App holds the long-lived collaborators shared by the HTTP service and the
// batch CLI.
type App struct {
	DBClient     *db.DatabaseClient
	ObjectClient core.ObjectClient
	Orchestrator *ingestion_engine.Orchestrator
	DocProcessor *ingestion_engine.DocumentIngestor
	Documents    *services.DocumentService
	Server       *Server
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.Open(appCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("database initialized and ready")

	objClient, err := objectclient.New(appCtx, cfg)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("open object storage: %w", err)
	}
	logger.Info("object client initialized and ready", "backend", cfg.StorageBackend)

	engine, err := extraction.NewEngine(extraction.DefaultStrategies(extraction.Deps{
		Recognizer: tesseract.NewEngine(),
		Tools:      cfg.Tools,
		Logger:     logger,
	}), logger)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}

	auditLog := audit.Multi{audit.NewSlogLogger(logger), audit.NewDBLogger(dbClient)}

	// No redaction service is wired in this deployment; text is stored as extracted.
	coordinator, err := ingestion_engine.NewCoordinator(engine, core.PassthroughPHIFilter{}, auditLog, logger)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}

	orch, err := ingestion_engine.NewOrchestrator(dbClient, objClient, coordinator, config.Snapshot, logger)
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}

	ingestor := ingestion_engine.NewDocumentIngestor(orch, logger)
	docs := services.NewDocumentService(dbClient, objClient, cfg.BucketName, orch, ingestor)

	return &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		Orchestrator: orch,
		DocProcessor: ingestor,
		Documents:    docs,
		Server:       NewServer(cfg, docs, logger),
	}, nil
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
