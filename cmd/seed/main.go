// Kestrel - Rule-based transaction risk evaluation.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command seed loads historical transactions into the feature store
// from a CSV file or URL.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/featurestore"
)

func main() {
	_ = godotenv.Load()

	var (
		csvPath = flag.String("csv", "", "path to a local CSV file")
		csvURL  = flag.String("url", os.Getenv("CSV_URL"), "URL to fetch the CSV from (default CSV_URL env)")
		reset   = flag.Bool("reset", false, "drop and recreate the transactions table first")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if *csvPath == "" && *csvURL == "" {
		fmt.Fprintln(os.Stderr, "usage: seed -csv <path> | -url <url> [-reset]")
		os.Exit(2)
	}

	cfg := domain.ConfigFromEnv()

	store, err := featurestore.New(cfg.FeatureStore)
	if err != nil {
		slog.Error("failed to initialize feature store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if *reset {
		if err := store.Reset(ctx); err != nil {
			slog.Error("failed to reset feature store", "error", err)
			os.Exit(1)
		}
		slog.Info("transaction history reset")
	}

	var src io.ReadCloser
	if *csvPath != "" {
		f, err := os.Open(*csvPath)
		if err != nil {
			slog.Error("failed to open CSV file", "path", *csvPath, "error", err)
			os.Exit(1)
		}
		src = f
	} else {
		resp, err := http.Get(*csvURL)
		if err != nil {
			slog.Error("failed to fetch CSV", "url", *csvURL, "error", err)
			os.Exit(1)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			slog.Error("unexpected status fetching CSV", "url", *csvURL, "status", resp.StatusCode)
			os.Exit(1)
		}
		src = resp.Body
	}
	defer src.Close()

	start := time.Now()
	inserted, err := store.SeedFromCSV(ctx, src)
	if err != nil {
		slog.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	total, err := store.TransactionCount(ctx)
	if err != nil {
		slog.Error("failed to count transactions", "error", err)
		os.Exit(1)
	}

	slog.Info("seeding complete",
		"inserted", inserted,
		"total", total,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	fmt.Printf("Inserted %d transactions (%d total in store)\n", inserted, total)
}
