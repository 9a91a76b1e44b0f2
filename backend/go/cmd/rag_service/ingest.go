package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ragbase/backend/go/internal/rag_service/service"
)

var (
	ingestModel     string
	ingestIndexType string
	ingestChunk     int
	ingestOverlap   int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file-path...]",
	Short: "Copy local files into the upload dir and index them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfgFile)
		if err != nil {
			return err
		}
		defer a.Close()

		names := make([]string, 0, len(args))
		for _, path := range args {
			name, err := copyUpload(cmd, a, path)
			if err != nil {
				return err
			}
			names = append(names, name)
		}

		cfg := a.store.Get()
		req := service.EmbedRequest{
			Filenames:    names,
			EmbedModel:   ingestModel,
			IndexType:    ingestIndexType,
			ChunkSize:    cfg.Chunk.Size,
			ChunkOverlap: cfg.Chunk.Overlap,
		}
		if cmd.Flags().Changed("chunk-size") {
			req.ChunkSize = ingestChunk
		}
		if cmd.Flags().Changed("chunk-overlap") {
			req.ChunkOverlap = ingestOverlap
		}
		res, err := a.svc.Embed(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func copyUpload(cmd *cobra.Command, a *app, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	info, err := a.svc.Uploads().Save(cmd.Context(), filepath.Base(path), f)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "uploaded %s (%d bytes)\n", info.Filename, info.Size)
	return info.Filename, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func init() {
	ingestCmd.Flags().StringVar(&ingestModel, "model", "", "embedding model alias (default from config)")
	ingestCmd.Flags().StringVar(&ingestIndexType, "index-type", "", "index type (default from config)")
	ingestCmd.Flags().IntVar(&ingestChunk, "chunk-size", 0, "chunk size in characters (default from config)")
	ingestCmd.Flags().IntVar(&ingestOverlap, "chunk-overlap", 0, "chunk overlap in characters (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
