package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"ragstore/internal/config"
	"ragstore/internal/document"
	"ragstore/internal/embedding"
	"ragstore/internal/logging"
	"ragstore/internal/vectorstore"
)

// runtime holds the components every command needs
type runtime struct {
	cfg      *config.Config
	log      *logrus.Logger
	store    vectorstore.VectorStore
	embedder embedding.Embedder
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewHashEmbedder(cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	return &runtime{cfg: cfg, log: log, store: store, embedder: embedder}, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (vectorstore.VectorStore, error) {
	switch cfg.Store.Backend {
	case "elasticsearch":
		es := cfg.Store.Elasticsearch
		fields := es.MetadataFields
		if len(fields) > 0 || len(es.ExtraMappings) > 0 {
			// Keep the chunk metadata written by the index command.
			fields = append(append([]string(nil), fields...), document.MetadataKeys...)
		}
		return vectorstore.NewElasticsearchStore(ctx, vectorstore.ElasticsearchConfig{
			URL:            es.URL,
			Username:       es.Username,
			Password:       es.Password,
			APIKey:         es.APIKey,
			IndexName:      es.Index,
			EmbeddingDim:   cfg.EmbeddingDim,
			ExtraMappings:  es.ExtraMappings,
			MetadataFields: fields,
			Refresh:        es.Refresh,
			Logger:         log,
		})
	case "memory":
		return vectorstore.NewPersistentStore(cfg.Store.DataDir, cfg.EmbeddingDim)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// parsePairs turns key=value flags into a metadata or filter map. Repeated
// keys collect into a list.
func parsePairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", pair)
		}
		switch prev := out[key].(type) {
		case nil:
			out[key] = value
		case string:
			out[key] = []string{prev, value}
		case []string:
			out[key] = append(prev, value)
		}
	}
	return out, nil
}
