// Command loader applies every *.json batch file of a directory to the
// warehouse, in file name order.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	appingest "github.com/erp/costalloc/internal/application/ingest"
	"github.com/erp/costalloc/internal/domain/ingest"
	"github.com/erp/costalloc/internal/domain/shared"
	"github.com/erp/costalloc/internal/infrastructure/config"
	jsonimport "github.com/erp/costalloc/internal/infrastructure/import"
	"github.com/erp/costalloc/internal/infrastructure/logger"
	"github.com/erp/costalloc/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

// batchIngestor applies one raw batch
type batchIngestor interface {
	HandleBatch(ctx context.Context, r io.Reader, source string) (*ingest.BatchSummary, error)
}

func main() {
	var dir, configPath string
	flag.StringVar(&dir, "dir", ".", "Directory holding the batch files")
	flag.StringVar(&configPath, "config", "", "Config file (default: config.toml in ., ./config or /etc/costalloc)")
	flag.Parse()

	os.Exit(run(dir, configPath))
}

func run(dir, configPath string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		return 1
	}

	log, err := logger.New(logger.FromAppConfig(cfg.Log))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, log, cfg.Telemetry.DBSlowQueryThresh)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return 1
	}
	defer db.Close()

	registry, err := ingest.DefaultRegistry()
	if err != nil {
		log.Error("Failed to build entity registry", zap.Error(err))
		return 1
	}
	svc := appingest.NewIngestionService(registry,
		persistence.NewGormIngestTransactionScope(db.DB, cfg.Allocation.BatchSize), log)
	svc.SetDecoder(jsonimport.NewDecoder(jsonimport.WithMaxSize(cfg.HTTP.MaxBodySize)))

	failed, err := loadDirectory(ctx, dir, svc, os.Stdout)
	if err != nil {
		log.Error("Failed to load directory", zap.String("dir", dir), zap.Error(err))
		return 1
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// loadDirectory applies each batch file of dir and prints one line per
// file. A failed file does not stop the others; the failures are counted.
func loadDirectory(ctx context.Context, dir string, ingestor batchIngestor, out io.Writer) (int, error) {
	files, err := jsonimport.ListBatchFiles(dir)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		rows, err := loadFile(ctx, f, ingestor)
		if err != nil {
			failed++
			fmt.Fprintf(out, "[ERR] %s: %s\n", f.Name, describe(err))
			continue
		}
		fmt.Fprintf(out, "[OK] %s (%d rows)\n", f.Name, rows)
	}
	return failed, nil
}

func loadFile(ctx context.Context, f jsonimport.BatchFile, ingestor batchIngestor) (int, error) {
	r, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer r.Close()

	summary, err := ingestor.HandleBatch(ctx, r, appingest.SourceFile)
	if err != nil {
		return 0, err
	}
	return summary.Rows, nil
}

func describe(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Code + ": " + de.Message
	}
	return err.Error()
}
