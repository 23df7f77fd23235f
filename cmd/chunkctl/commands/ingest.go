package commands

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var ingestSource string

// NewIngestCmd creates the ingest command.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file-or-dir>",
		Short: "Ingest text files into the index",
		Long: `Ingest reads a text file, or every .txt and .md file under a
directory, and sends each one to the server's ingest endpoint. The server
splits the text into chunks, embeds them, and upserts them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			paths, err := collectIngestPaths(args[0])
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no .txt or .md files under %s", args[0])
			}

			client := newClient()
			ctx := cmd.Context()

			var totalChunks, totalCreated, totalUpdated int
			for _, path := range paths {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}

				source := ingestSource
				if source == "" || len(paths) > 1 {
					source = filepath.ToSlash(path)
				}

				report, err := client.ingest(ctx, source, string(data))
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s: resource %s, %d chunks (%d created, %d updated)\n",
					path, report.ResourceID, report.Chunks, report.Created, report.Updated)
				totalChunks += report.Chunks
				totalCreated += report.Created
				totalUpdated += report.Updated
			}

			if len(paths) > 1 {
				fmt.Fprintf(cmd.OutOrStdout(), "ingested %d files: %d chunks (%d created, %d updated)\n",
					len(paths), totalChunks, totalCreated, totalUpdated)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ingestSource, "source", "", "source label for a single file (defaults to the file path)")

	return cmd
}

// collectIngestPaths resolves a file argument to itself, or a directory
// argument to its .txt and .md files in walk order.
func collectIngestPaths(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
