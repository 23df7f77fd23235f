package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	openaiEmb "github.com/chunkforge/chunkdex/internal/transport/openai"
)

var (
	queryK       int
	queryProfile string
	queryEmbed   bool
	queryDims    int
	queryJSON    bool
)

// NewQueryCmd creates the query command.
func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <terms...>",
		Short: "Search the index",
		Long: `Query runs a lexical search over the given terms. With --embed the
terms are also embedded locally (OPENAI_API_KEY from the environment or a
.env file) and the search becomes hybrid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			terms := strings.Join(args, " ")
			req := queryRequest{
				Terms:       terms,
				K:           queryK,
				RankProfile: queryProfile,
			}

			if queryEmbed {
				apiKey := os.Getenv("OPENAI_API_KEY")
				if apiKey == "" {
					return fmt.Errorf("--embed requires OPENAI_API_KEY")
				}
				embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
					APIKey:     apiKey,
					BaseURL:    os.Getenv("OPENAI_BASE_URL"),
					Model:      os.Getenv("OPENAI_EMBEDDING_MODEL"),
					Dimensions: queryDims,
				})
				result, err := embedder.Embed(cmd.Context(), terms)
				if err != nil {
					return fmt.Errorf("embed query: %w", err)
				}
				req.Embedding = result.Embedding
			}

			resp, err := newClient().query(cmd.Context(), req)
			if err != nil {
				return err
			}

			if queryJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			if resp.Count == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tID\tTEXT")
			for _, hit := range resp.Results {
				fmt.Fprintf(w, "%.4f\t%s\t%s\n", hit.Score, hit.ID, snippet(hit.Summary["chunk_text"], 80))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&queryK, "k", 10, "number of results")
	cmd.Flags().StringVar(&queryProfile, "profile", "", "rank profile (combined, closeness, bm25)")
	cmd.Flags().BoolVar(&queryEmbed, "embed", false, "embed the query locally for hybrid search")
	cmd.Flags().IntVar(&queryDims, "dims", 3072, "embedding dimensions for --embed")
	cmd.Flags().BoolVar(&queryJSON, "json", false, "print raw JSON")

	return cmd
}

func snippet(text string, max int) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
