/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/server"
)

var pushNextCmd = &cobra.Command{
	Use:   "push-next",
	Short: "Create, fill and push the next slot of a live stream",
	Long:  "Create the slot following the current one if needed, fill it when it has no programs, and push it to the runner.",
	RunE:  runPushNext,
}

var createNextCmd = &cobra.Command{
	Use:   "create-next",
	Short: "Create the slot following the current one",
	RunE:  runCreateNext,
}

var streamID string

func init() {
	rootCmd.AddCommand(pushNextCmd)
	rootCmd.AddCommand(createNextCmd)

	for _, c := range []*cobra.Command{pushNextCmd, createNextCmd} {
		c.Flags().StringVar(&streamID, "stream", "", "Live stream ID (required)")
		c.MarkFlagRequired("stream")
	}
}

func runPushNext(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer srv.Close()

	result, err := srv.Committer().PushNext(cmd.Context(), streamID)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

func runCreateNext(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer srv.Close()

	slot, err := srv.Slots().CreateNextSlot(cmd.Context(), streamID)
	if err != nil {
		return err
	}
	return printJSON(cmd, slot)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
