package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"eco-counselor/internal/chromemdb"
	"eco-counselor/internal/config"
	"eco-counselor/internal/db"
	"eco-counselor/internal/embedding"
	"eco-counselor/internal/llmservice"
	"eco-counselor/internal/metrics"
	"eco-counselor/internal/rag"
)

// app holds the process-wide resources shared by every request.
type app struct {
	cfg      *config.Config
	store    *db.Store
	vectors  *chromemdb.VectorDBManager
	metrics  *metrics.Metrics
	pipeline *rag.Pipeline
}

func openStore(ctx context.Context, cfg *config.Config) (*db.Store, error) {
	bunDB, err := db.ConnectDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.InitDB(ctx, bunDB); err != nil {
		_ = bunDB.Close()
		return nil, err
	}
	return db.NewStore(bunDB), nil
}

func openVectors(cfg *config.Config, snapshot string) (*chromemdb.VectorDBManager, error) {
	vs := cfg.VectorStore
	vectors, err := chromemdb.NewVectorDBManager(vs.Path, vs.CollectionName, false, vs.Compress)
	if err != nil {
		return nil, err
	}
	if snapshot != "" {
		if err := vectors.Import(snapshot, vs.EncryptionKey); err != nil {
			return nil, err
		}
		log.Info().Str("file", snapshot).Msg("Imported vector snapshot")
	}
	return vectors, nil
}

// newApp wires the chat pipeline: embedder, vector store, completion client
// and interaction log.
func newApp(ctx context.Context, cfg *config.Config, snapshot string) (*app, error) {
	if err := cfg.RequireCompletionKey(); err != nil {
		return nil, err
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	vectors, err := openVectors(cfg, snapshot)
	if err != nil {
		return nil, err
	}
	if vectors.Count() == 0 {
		log.Warn().Str("path", cfg.VectorStore.Path).Msg("Vector store is empty; every question will get the fallback response. Run the index command first")
	}
	llm, err := llmservice.New(&cfg.CompletionLLM)
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	pipeline := rag.NewPipeline(rag.Options{
		Safety:           rag.NewSafetyInterceptor(cfg.Safety.ExtraKeywords...),
		Retriever:        rag.NewVectorRetriever(embedder, vectors),
		Engine:           rag.NewEngine(llm),
		Log:              store,
		Recorder:         m,
		Threshold:        cfg.RAG.DistanceThreshold,
		AnswerK:          cfg.RAG.AnswerK,
		CondenseQuestion: cfg.RAG.CondenseEnabled(),
		LogEmergencies:   cfg.Safety.LogEmergencies,
	})
	log.Info().
		Str("embedding_model", embedder.ModelID()).
		Str("completion_model", llm.ModelID()).
		Int("chunks", vectors.Count()).
		Float64("threshold", cfg.RAG.DistanceThreshold).
		Msg("Pipeline ready")

	return &app{cfg: cfg, store: store, vectors: vectors, metrics: m, pipeline: pipeline}, nil
}

func (a *app) Close() error {
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
