// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/zapload/pkg/logger"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <id>",
	Short: "Re-validate a completed upload against the backend",
	Args:  cobra.ExactArgs(1),
	Run:   runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	registerEngineFlags(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	eng := openEngine(cmd)
	defer eng.Close()

	result, err := eng.Validate(cmd.Context(), args[0])
	if err != nil {
		logger.Fatal().Err(err).Str("upload_id", args[0]).Msg("validation did not run")
	}

	if result.IsValid {
		fmt.Println("valid: stored object matches the local record")
		return
	}
	fmt.Printf("INVALID: %s\n", result.Error)
	if len(result.CorruptedChunks) > 0 {
		fmt.Printf("corrupted chunks: %v\n", result.CorruptedChunks)
		fmt.Printf("repair with: zapload resume %s <file>\n", args[0])
	}
	exitCode = 1
}
