// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/zapload/pkg/utils"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "zapload",
	Short: "zapload - resumable large-file uploads",
	Long: `zapload uploads large files to S3-compatible object storage in resumable
multipart sessions. Interrupted transfers pick up where they left off: the
engine keeps a local record of every planned chunk and reconciles it against
the backend's part list before re-sending anything.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
}

// exitCode is set by commands that finish with a nonzero status. Runs set it
// instead of calling os.Exit so their deferred cleanup (engine close, store
// sync) still happens.
var exitCode int

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
