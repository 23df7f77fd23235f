// Package commands implements the chunkctl CLI: ingest, query, and manage
// chunks over the chunkdex HTTP API.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
)

// NewRootCmd creates the chunkctl root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunkctl",
		Short: "Manage a chunkdex search index",
		Long: `chunkctl talks to a chunkdex server: ingest documents, run hybrid
searches, and inspect or delete individual chunks.

The server address comes from --server or CHUNKDEX_SERVER; the API key
from --api-key or CHUNKDEX_API_KEY.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("CHUNKDEX_SERVER", "http://localhost:8080"), "chunkdex server base URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key",
		os.Getenv("CHUNKDEX_API_KEY"), "API key for the server")

	cmd.AddCommand(NewIngestCmd())
	cmd.AddCommand(NewQueryCmd())
	cmd.AddCommand(NewGetCmd())
	cmd.AddCommand(NewDeleteCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *apiClient {
	return &apiClient{baseURL: serverURL, apiKey: apiKey}
}
