// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/LeeDigitalWorks/zapload/pkg/logger"
	"github.com/LeeDigitalWorks/zapload/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "List known upload sessions",
	Run:   runUploads,
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show one upload in detail",
	Args:  cobra.ExactArgs(1),
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(uploadsCmd)
	rootCmd.AddCommand(statusCmd)
	registerEngineFlags(uploadsCmd)
	registerEngineFlags(statusCmd)
}

func runUploads(cmd *cobra.Command, args []string) {
	eng := openEngine(cmd)
	defer eng.Close()

	uploads := eng.List()
	if len(uploads) == 0 {
		fmt.Println("no uploads")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tSIZE\tSTATUS\tPROGRESS\tUPDATED")
	for _, u := range uploads {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d (%.1f%%)\t%s\n",
			u.ID, u.FileName, humanize.IBytes(uint64(u.FileSize)), u.Status,
			u.UploadedCount, u.TotalCount, u.ProgressPercent,
			humanize.Time(u.UpdatedAt))
	}
	w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) {
	eng := openEngine(cmd)
	defer eng.Close()

	u, err := eng.Snapshot(args[0])
	if err != nil {
		logger.Fatal().Err(err).Str("upload_id", args[0]).Msg("upload not found")
	}

	fmt.Printf("id:        %s\n", u.ID)
	fmt.Printf("file:      %s (%s)\n", u.FileName, humanize.IBytes(uint64(u.FileSize)))
	fmt.Printf("key:       %s\n", u.Key)
	fmt.Printf("status:    %s\n", u.Status)
	fmt.Printf("progress:  %d/%d chunks (%.1f%%)\n", u.UploadedCount, u.TotalCount, u.ProgressPercent)
	if u.RetryCount > 0 {
		fmt.Printf("retries:   %d\n", u.RetryCount)
	}
	if u.Checksum == types.ChecksumDeferred {
		fmt.Printf("sha256:    (computing in background)\n")
	} else if u.Checksum != "" {
		fmt.Printf("sha256:    %s\n", u.Checksum)
	}
	if u.Location != "" {
		fmt.Printf("location:  %s\n", u.Location)
	}
	if u.DownloadURL != "" {
		fmt.Printf("download:  %s\n", u.DownloadURL)
	}
	if u.ErrorMessage != "" {
		fmt.Printf("error:     %s\n", u.ErrorMessage)
	}
	if vr := u.ValidationResult; vr != nil {
		fmt.Printf("validated: %v\n", vr.IsValid)
		if len(vr.CorruptedChunks) > 0 {
			fmt.Printf("corrupted: %v\n", vr.CorruptedChunks)
		}
	}
	fmt.Printf("created:   %s\n", humanize.Time(u.CreatedAt))
	fmt.Printf("updated:   %s\n", humanize.Time(u.UpdatedAt))
}
