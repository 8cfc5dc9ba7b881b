package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hivemind/internal/embedding"
	"hivemind/internal/retrieval"
)

var recallLimit int

var recallCmd = &cobra.Command{
	Use:   "recall <query...>",
	Short: "Search consolidated patterns by meaning",
	Long: `Embeds the query and ranks stored patterns by cosine similarity.
Without a reachable embedding provider the search falls back to lexical
matching over descriptions and tags.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecall,
}

func init() {
	recallCmd.Flags().IntVar(&recallLimit, "limit", 10, "number of patterns to return")
	rootCmd.AddCommand(recallCmd)
}

func runRecall(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	cfg, st, _, err := openRuntime()
	if err != nil {
		return err
	}
	defer st.Close()

	engine, err := embedding.NewEngine(cfg.Embedding, cfg.LLM.APIKey)
	if err != nil {
		fmt.Printf("Embeddings disabled: %v\n", err)
		engine = nil
	}

	query := strings.Join(args, " ")
	hits, err := retrieval.NewRetriever(st, engine).Search(ctx, project, query, recallLimit)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No patterns matched.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tVIA\tTYPE\tCONF\tDESCRIPTION")
	for _, h := range hits {
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%.2f\t%s\n",
			h.Score, h.Source, h.Pattern.Type, h.Pattern.Confidence, h.Pattern.Description)
	}
	return w.Flush()
}
