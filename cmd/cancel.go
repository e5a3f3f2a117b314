// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/zapload/pkg/logger"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel an upload and abort its backend session",
	Args:  cobra.ExactArgs(1),
	Run:   runCancel,
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a finished upload from the local store",
	Args:  cobra.ExactArgs(1),
	Run:   runRemove,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(removeCmd)
	registerEngineFlags(cancelCmd)
	registerEngineFlags(removeCmd)
}

func runCancel(cmd *cobra.Command, args []string) {
	eng := openEngine(cmd)
	defer eng.Close()

	if err := eng.Cancel(args[0]); err != nil {
		logger.Fatal().Err(err).Str("upload_id", args[0]).Msg("cancel failed")
	}
	fmt.Printf("upload %s cancelled\n", args[0])
}

func runRemove(cmd *cobra.Command, args []string) {
	eng := openEngine(cmd)
	defer eng.Close()

	if err := eng.Remove(args[0]); err != nil {
		logger.Fatal().Err(err).Str("upload_id", args[0]).Msg("remove failed")
	}
	fmt.Printf("upload %s removed\n", args[0])
}
