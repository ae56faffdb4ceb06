package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"docintake/internal/models"
	"docintake/internal/parser"
)

func newParseCmd() *cobra.Command {
	var (
		workers int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "parse <files...>",
		Short: "Parse local files and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := readLocalFiles(args)
			if err != nil {
				return err
			}
			p, err := parser.New(parser.WithWorkers(workers), parser.WithTimeout(timeout))
			if err != nil {
				return err
			}
			defer p.Release()

			res := p.ParseDocuments(cmd.Context(), files)
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "files parsed concurrently")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "deadline for the whole batch")
	return cmd
}

func readLocalFiles(paths []string) ([]models.UploadedFile, error) {
	files := make([]models.UploadedFile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, models.UploadedFile{
			Name:    filepath.Base(path),
			Size:    int64(len(data)),
			Content: data,
		})
	}
	return files, nil
}
