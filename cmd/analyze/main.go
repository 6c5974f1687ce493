package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/constants"
	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/extract/vendor"
	"github.com/joseph-ayodele/invoice-ingest/internal/normalize"
)

// analyze runs the configured extraction vendor against a local file and prints the
// normalized extraction. Nothing is stored.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "analyze <file>")
		os.Exit(2)
	}
	path := os.Args[1]

	cfg := common.LoadConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read file", "path", path, "error", err)
		os.Exit(1)
	}
	mt := constants.NormalizeMimeType(mime.TypeByExtension(filepath.Ext(path)))
	if !constants.MimeAllowed(mt) {
		logger.Error("unsupported file type", "path", path, "mime_type", mt)
		os.Exit(2)
	}

	analyzer, err := vendor.New(cfg.Extraction, logger)
	if err != nil {
		logger.Error("build analyzer", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	res, err := analyzer.Analyze(ctx, data, mt, "")
	dur := time.Since(start)
	if err != nil {
		logger.Error("analysis failed", "vendor", analyzer.Name(), "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}
	if res == nil {
		logger.Warn("no invoice recognized", "vendor", analyzer.Name(), "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}

	ex := normalize.New(cfg.DefaultCurrency, logger).Extraction(uuid.Nil, res)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ex.View()); err != nil {
		logger.Error("encode output", "error", err)
		os.Exit(1)
	}

	logger.Info("analysis OK",
		"vendor", analyzer.Name(),
		"lines", len(ex.Lines),
		"bytes", len(data),
		"duration_ms", dur.Milliseconds(),
	)
}
