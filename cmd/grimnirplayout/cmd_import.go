/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/cache"
	"github.com/friendsincode/grimnir_playout/internal/db"
	"github.com/friendsincode/grimnir_playout/internal/seed"
	"github.com/friendsincode/grimnir_playout/internal/slotconfig"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load live streams, policies, assets and campaigns from a YAML seed file",
	RunE:  runImport,
}

var (
	importFile   string
	importDryRun bool
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importFile, "file", "", "Path to the seed file (required)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate the file without writing")
	importCmd.MarkFlagRequired("file")
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	doc, err := seed.ParseFile(importFile)
	if err != nil {
		return err
	}
	if importDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "%d live streams, %d assets, %d campaigns: ok\n",
			len(doc.LiveStreams), len(doc.Assets), len(doc.Campaigns))
		return nil
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Cached policies of re-imported streams must not outlive the import.
	var entityCache *cache.Cache
	if cfg.RedisEnabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		entityCache = cache.New(client, cache.Config{TTL: cfg.CacheTTL}, logger)
	}

	importer := seed.NewImporter(database, slotconfig.NewResolver(database, entityCache, nil, logger), logger)
	sum, err := importer.Apply(cmd.Context(), doc)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d live streams, %d slot configs, %d assets, %d campaigns\n",
		sum.LiveStreams, sum.SlotConfigs, sum.Assets, sum.Campaigns)
	return nil
}
