// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LeeDigitalWorks/zapload/pkg/engine"
	"github.com/LeeDigitalWorks/zapload/pkg/events"
	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/source"
	"github.com/LeeDigitalWorks/zapload/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file as a resumable multipart session",
	Long: `Upload a file to the configured bucket. Progress renders live; Ctrl-C
pauses the transfer and leaves a session that 'zapload resume' picks up.`,
	Args: cobra.ExactArgs(1),
	Run:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	f := uploadCmd.Flags()
	f.String("key", "", "Object key (default: key_prefix + upload id + file name)")
	f.String("content_type", "", "Content type stored with the object")
	registerEngineFlags(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) {
	eng := openEngine(cmd)
	defer eng.Close()

	src, err := source.Open(args[0])
	if err != nil {
		logger.Fatal().Err(err).Str("file", args[0]).Msg("cannot open file")
	}

	sub, unsubscribe := eng.Subscribe(1024)
	defer unsubscribe()

	f := NewFlagLoader(cmd)
	id, err := eng.Start(cmd.Context(), src, engine.StartOptions{
		Key:         f.String("key"),
		ContentType: f.String("content_type"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("upload rejected")
	}

	fmt.Printf("upload %s started (%s, %s)\n", id, args[0], humanize.IBytes(uint64(src.Size())))
	exitCode = followTransfer(eng, id, sub)
}

// followTransfer renders events for one upload until it settles, returning
// the process exit code. A single Ctrl-C pauses the transfer instead of
// killing it, so the session stays resumable.
func followTransfer(eng *engine.Engine, id string, sub <-chan events.Event) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-sigCh:
			fmt.Println("\ninterrupt: pausing upload")
			if err := eng.Pause(id); err != nil {
				fmt.Fprintf(os.Stderr, "pause failed: %v\n", err)
				return 1
			}

		case ev, ok := <-sub:
			if !ok {
				return 1
			}
			if ev.UploadID != id {
				continue
			}
			switch ev.Type {
			case events.EventProgress:
				printProgress(ev)
			case events.EventValidationFinished:
				if !ev.IsValid {
					fmt.Printf("\nvalidation failed: %s\n", ev.Message)
				}
			case events.EventStatusChanged:
				if code, done := reportStatus(eng, id, ev); done {
					return code
				}
			}
		}
	}
}

// reportStatus prints the outcome for transitions the user needs to see and
// reports whether the transfer has settled.
func reportStatus(eng *engine.Engine, id string, ev events.Event) (int, bool) {
	switch ev.To {
	case types.StatusValidating:
		fmt.Printf("\rall chunks uploaded, validating...                                    \n")
		return 0, false

	case types.StatusCompleted:
		u, err := eng.Snapshot(id)
		if err != nil {
			fmt.Printf("completed\n")
			return 0, true
		}
		fmt.Printf("completed: %s\n", u.Location)
		if u.Checksum != types.ChecksumDeferred {
			fmt.Printf("  sha256:   %s\n", u.Checksum)
		}
		if u.DownloadURL != "" {
			fmt.Printf("  download: %s\n", u.DownloadURL)
		}
		return 0, true

	case types.StatusPaused:
		fmt.Printf("paused; resume with: zapload resume %s %s\n", id, sourceHint(eng, id))
		return 0, true

	case types.StatusError:
		fmt.Printf("\nupload failed: %s\n", ev.Message)
		fmt.Printf("retry with: zapload resume %s %s\n", id, sourceHint(eng, id))
		return 1, true

	case types.StatusCancelled:
		fmt.Println("\ncancelled")
		return 1, true
	}
	return 0, false
}

func sourceHint(eng *engine.Engine, id string) string {
	u, err := eng.Snapshot(id)
	if err != nil {
		return "<file>"
	}
	return u.FileName
}

func printProgress(ev events.Event) {
	line := fmt.Sprintf("%6.2f%%", ev.ProgressPercent)
	if ev.SpeedBPS > 0 {
		line += fmt.Sprintf("  %s/s", humanize.IBytes(uint64(ev.SpeedBPS)))
	}
	if ev.RemainingSeconds >= 0 {
		line += fmt.Sprintf("  eta %s", formatETA(ev.RemainingSeconds))
	}
	// Pad so a shrinking line does not leave stale characters behind.
	fmt.Printf("\r%-60s", line)
}

func formatETA(seconds int64) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%dh%02dm", seconds/3600, (seconds%3600)/60)
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
