package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"eco-counselor/internal/embedding"
	"eco-counselor/internal/helper"
	"eco-counselor/internal/indexer"
	"eco-counselor/internal/parser"
)

var errMissingEncryptionKey = errors.New("vector store encryption key is required")

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var (
		exportPath string
		dir        string
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the vector store from the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if dir != "" {
				cfg.KnowledgeBase.Dir = dir
			}
			if exportPath != "" && cfg.VectorStore.EncryptionKey == "" {
				return fmt.Errorf("--export needs vector_store.encryption_key or VECTOR_DB_ENCRYPTION_KEY: %w", errMissingEncryptionKey)
			}

			splitter, err := parser.NewSplitter(cfg.RAG.ChunkStrategy, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
			if err != nil {
				return err
			}
			embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
			if err != nil {
				return err
			}
			vectors, err := openVectors(cfg, "")
			if err != nil {
				return err
			}

			ix := indexer.New(parser.NewParser(splitter), embedder, vectors, cfg.KnowledgeBase.Dir, cfg.KnowledgeBase.Glob)
			report, err := ix.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("indexing failed: %w", err)
			}
			helper.PrettyPrint(cmd.OutOrStdout(), report)

			if exportPath != "" {
				if err := vectors.Export(exportPath, cfg.VectorStore.EncryptionKey); err != nil {
					return err
				}
				log.Info().Str("file", exportPath).Msg("Exported vector snapshot")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&exportPath, "export", "", "write an encrypted snapshot of the collection to this file")
	cmd.Flags().StringVar(&dir, "dir", "", "knowledge base directory (overrides config)")
	return cmd
}
