package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	rhttp "ragbase/backend/go/pkg/http"
)

var (
	embedModel     string
	embedIndexType string
	chunkSize      int
	chunkOverlap   int
	searchK        int
	queryTopK      int
	contextLen     int
)

// clientFor 解析服务地址并创建 apiClient。
func clientFor(cmd *cobra.Command) (*apiClient, error) {
	base, err := baseURL(cmd.Context())
	if err != nil {
		return nil, err
	}
	return newAPIClient(base, rhttp.NewClient(rhttp.WithTimeout(timeout))), nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

var uploadCmd = &cobra.Command{
	Use:   "upload [file-path...]",
	Short: "Upload files to the RAG service",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(cmd)
		if err != nil {
			return err
		}
		for _, path := range args {
			var out map[string]interface{}
			if err := c.upload(cmd.Context(), path, &out); err != nil {
				return fmt.Errorf("upload %s: %w", path, err)
			}
			if err := printJSON(cmd, out); err != nil {
				return err
			}
		}
		return nil
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed [filename...]",
	Short: "Index previously uploaded files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(cmd)
		if err != nil {
			return err
		}
		names := make([]string, len(args))
		for i, a := range args {
			names[i] = filepath.Base(a)
		}
		body := map[string]interface{}{"filenames": names}
		if embedModel != "" {
			body["embed_model"] = embedModel
		}
		if embedIndexType != "" {
			body["index_type"] = embedIndexType
		}
		if cmd.Flags().Changed("chunk-size") {
			body["chunk_size"] = chunkSize
		}
		if cmd.Flags().Changed("chunk-overlap") {
			body["chunk_overlap"] = chunkOverlap
		}
		var out map[string]interface{}
		if err := c.postJSON(cmd.Context(), "/api/embed/", body, &out); err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Similarity search over the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(cmd)
		if err != nil {
			return err
		}
		body := map[string]interface{}{"query": strings.Join(args, " ")}
		if searchK > 0 {
			body["k"] = searchK
		}
		var out map[string]interface{}
		if err := c.postJSON(cmd.Context(), "/api/search/", body, &out); err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question and get a generated answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(cmd)
		if err != nil {
			return err
		}
		body := map[string]interface{}{
			"question":   strings.Join(args, " "),
			"topk":       queryTopK,
			"contextLen": contextLen,
		}
		var out struct {
			Answer   string                 `json:"answer"`
			Docs     []string               `json:"docs"`
			Metadata map[string]interface{} `json:"metadata"`
		}
		if err := c.postJSON(cmd.Context(), "/api/query/", body, &out); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Answer)
		if len(out.Docs) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\n(%d source chunks)\n", len(out.Docs))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(cmd)
		if err != nil {
			return err
		}
		var out map[string]interface{}
		if err := c.getJSON(cmd.Context(), "/api/collection/stats", &out); err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List uploaded files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(cmd)
		if err != nil {
			return err
		}
		var out map[string]interface{}
		if err := c.getJSON(cmd.Context(), "/api/files", &out); err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFor(cmd)
		if err != nil {
			return err
		}
		var out map[string]interface{}
		if err := c.deleteJSON(cmd.Context(), "/api/collection", &out); err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

func init() {
	embedCmd.Flags().StringVar(&embedModel, "model", "", "embedding model alias")
	embedCmd.Flags().StringVar(&embedIndexType, "index-type", "", "index type")
	embedCmd.Flags().IntVar(&chunkSize, "chunk-size", 500, "chunk size in characters")
	embedCmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 50, "chunk overlap in characters")
	searchCmd.Flags().IntVar(&searchK, "k", 0, "number of results (server default when 0)")
	queryCmd.Flags().IntVar(&queryTopK, "topk", 5, "number of chunks to retrieve")
	queryCmd.Flags().IntVar(&contextLen, "context-len", 512, "max characters per chunk in the prompt")

	rootCmd.AddCommand(uploadCmd, embedCmd, searchCmd, queryCmd, statsCmd, filesCmd, clearCmd)
}
