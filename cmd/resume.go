// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/LeeDigitalWorks/zapload/pkg/engine"
	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/source"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <id> [file]",
	Short: "Resume a paused or failed upload",
	Long: `Resume an interrupted upload. Across process restarts the engine no longer
holds the file, so pass its path again; the file must match the original name
and size. Already-acknowledged chunks are never re-sent.`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	registerEngineFlags(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) {
	eng := openEngine(cmd)
	defer eng.Close()

	id := args[0]
	sub, unsubscribe := eng.Subscribe(1024)
	defer unsubscribe()

	var err error
	if len(args) == 2 {
		var src source.Source
		src, err = source.Open(args[1])
		if err != nil {
			logger.Fatal().Err(err).Str("file", args[1]).Msg("cannot open file")
		}
		err = eng.ResumeWithSource(cmd.Context(), id, src)
	} else {
		err = eng.Resume(cmd.Context(), id)
	}

	switch {
	case err == nil:
	case errors.Is(err, engine.ErrSourceRequired):
		fmt.Fprintf(os.Stderr, "upload %s has no open file handle; pass the file path: zapload resume %s <file>\n", id, id)
		exitCode = 1
		return
	case errors.Is(err, engine.ErrSourceMismatch):
		fmt.Fprintf(os.Stderr, "that file does not match the original upload: %v\n", err)
		exitCode = 1
		return
	default:
		logger.Fatal().Err(err).Str("upload_id", id).Msg("resume failed")
	}

	fmt.Printf("upload %s resuming\n", id)
	exitCode = followTransfer(eng, id, sub)
}
