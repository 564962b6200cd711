package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/shelver/internal/core"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var images []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ingest <manifest>",
		Short: "Ingest a manifest in-process and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.configValue()
			if err != nil {
				return err
			}

			manifest, err := readManifestFile(args[0], images)
			if err != nil {
				return err
			}

			rt, err := buildRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			acc, err := rt.service.Accept(cmd.Context(), manifest)
			if err != nil {
				return errors.New(core.FormatUserError(err))
			}

			waitCtx := cmd.Context()
			if cfg.Processing.BatchTimeout > 0 {
				var cancel context.CancelFunc
				waitCtx, cancel = context.WithTimeout(waitCtx, cfg.Processing.BatchTimeout)
				defer cancel()
			}
			if err := rt.service.Wait(waitCtx); err != nil {
				return fmt.Errorf("wait for batch %s: %w", acc.BatchID, err)
			}

			report, err := rt.service.Status(cmd.Context(), acc.BatchID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			printReport(cmd, report)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&images, "images", "i", nil, "Cover image files or directories to attach")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the batch report as JSON")
	return cmd
}

// readManifestFile loads the manifest and every image named by paths.
// Directories contribute their entries, without recursion.
func readManifestFile(path string, paths []string) (core.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	m := core.Manifest{Filename: filepath.Base(path), Data: data}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return core.Manifest{}, fmt.Errorf("read image: %w", err)
		}
		files := []string{p}
		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				return core.Manifest{}, fmt.Errorf("read image dir: %w", err)
			}
			files = files[:0]
			for _, e := range entries {
				if !e.IsDir() {
					files = append(files, filepath.Join(p, e.Name()))
				}
			}
		}
		for _, f := range files {
			img, err := os.ReadFile(f)
			if err != nil {
				return core.Manifest{}, fmt.Errorf("read image: %w", err)
			}
			m.Images = append(m.Images, core.Image{Name: filepath.Base(f), Data: img})
		}
	}
	return m, nil
}

func printReport(cmd *cobra.Command, r *core.BatchReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Batch %s: %s\n", r.BatchID, r.Status)
	fmt.Fprintf(out, "%d total, %d successful, %d failed (%.2f%%)\n",
		r.Total, r.Successful, r.Failed, r.Progress)

	if len(r.ErrorLog) == 0 {
		return
	}
	rows := make([][]string, 0, len(r.ErrorLog))
	for _, e := range r.ErrorLog {
		rows = append(rows, []string{strconv.Itoa(e.Row), e.Identifier, strings.TrimSpace(e.Error)})
	}
	fmt.Fprintln(out, renderTable(cmd, []string{"Row", "Identifier", "Error"}, rows, []columnAlignment{alignRight}))
}
