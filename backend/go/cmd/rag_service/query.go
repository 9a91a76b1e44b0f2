package main

import (
	"strings"

	"github.com/spf13/cobra"

	"ragbase/backend/go/internal/rag_service/service"
)

var (
	queryTopK       int
	queryContextLen int
	searchK         int
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfgFile)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.svc.Query(ctx, service.QueryRequest{
			Question:   strings.Join(args, " "),
			TopK:       queryTopK,
			ContextLen: queryContextLen,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a similarity search without answer generation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfgFile)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.svc.Search(ctx, service.SearchRequest{Query: strings.Join(args, " "), K: searchK})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfgFile)
		if err != nil {
			return err
		}
		defer a.Close()
		return printJSON(cmd, a.svc.CollectionStats(ctx))
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryTopK, "topk", service.DefaultQueryTopK, "number of chunks to retrieve")
	queryCmd.Flags().IntVar(&queryContextLen, "context-len", service.DefaultContextLen, "max characters per chunk in the prompt")
	searchCmd.Flags().IntVar(&searchK, "k", 0, "number of results (default from config)")
	rootCmd.AddCommand(queryCmd, searchCmd, statsCmd)
}
