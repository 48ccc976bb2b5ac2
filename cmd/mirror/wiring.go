package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/egdb/catalog-mirror/internal/catalog/db"
	"github.com/egdb/catalog-mirror/internal/catalog/fetch"
	"github.com/egdb/catalog-mirror/internal/catalog/queue"
	"github.com/egdb/catalog-mirror/internal/catalog/store"
	"github.com/egdb/catalog-mirror/internal/config"
	"github.com/egdb/catalog-mirror/internal/remote"
	"github.com/egdb/catalog-mirror/internal/remote/auth"
	"github.com/egdb/catalog-mirror/internal/sink"
	"github.com/egdb/catalog-mirror/internal/vcs/git"
)

func openStore() *store.Store {
	return store.New(cfg.Store.Path)
}

// openDB opens the SQLite mirror, or returns nil when it is disabled.
func openDB(ctx context.Context) (*db.DB, error) {
	if !cfg.DB.Enabled {
		return nil, nil
	}
	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		_ = database.Close()
		return nil, err
	}
	return database, nil
}

func newQueue() (*queue.Queue, error) {
	var source queue.Source
	if cfg.Queue.Source != "" {
		s, err := queue.NewSource(cfg.Queue.Source)
		if err != nil {
			return nil, err
		}
		source = s
	}
	return queue.New(queue.Options{
		Path:    cfg.Queue.File,
		Source:  source,
		Shuffle: cfg.Queue.Shuffle,
	}, logs.For("queue")), nil
}

func newSession() (*auth.Handle, error) {
	var provider auth.Provider
	switch cfg.Auth.Mode {
	case config.AuthStatic:
		provider = auth.Static{Token: cfg.Auth.Token}
	case config.AuthClientCredentials:
		provider = &auth.ClientCredentials{
			TokenURL:     cfg.Auth.TokenURL,
			KillURL:      cfg.Auth.KillURL,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
		}
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
	return auth.NewHandle(provider, logs.For("auth")), nil
}

// newGetter stacks the retry policy on the authenticated transport.
func newGetter(session *auth.Handle) *remote.Policy {
	transport := remote.NewTransport(session, remote.TransportConfig{
		RequestsPerSecond: cfg.Pacing.RequestsPerSecond,
	})
	return remote.NewPolicy(transport, session, remote.PolicyConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}, logs.For("retry"))
}

func fetchConfig() fetch.Config {
	return fetch.Config{
		Endpoints: fetch.Endpoints{
			CatalogBase:        cfg.Catalog.BaseURL,
			StatusFilter:       cfg.Catalog.StatusFilter,
			Country:            cfg.Catalog.Country,
			Locale:             cfg.Catalog.Locale,
			GraphQLURL:         cfg.GraphQL.URL,
			GraphQLLocale:      cfg.GraphQL.Locale,
			OperationName:      cfg.GraphQL.OperationName,
			PersistedQueryHash: cfg.GraphQL.PersistedQueryHash,
		},
		PageSize: cfg.Catalog.PageSize,
		Pacing: fetch.Pacing{
			PageDelay:  cfg.Pacing.PageDelay,
			ItemDelay:  cfg.Pacing.ItemDelay,
			OfferDelay: cfg.Pacing.OfferDelay,
		},
	}
}

// newSink returns the configured changelist consumer and a closer for it.
func newSink(ctx context.Context) (sink.Sink, func(), error) {
	switch cfg.Sink.Type {
	case config.SinkNone, "":
		return sink.Nop{}, func() {}, nil
	case config.SinkHTTP:
		return &sink.HTTPSink{URL: cfg.Sink.URL, Token: cfg.Sink.Token}, func() {}, nil
	case config.SinkRedis:
		rs, err := sink.NewRedisSink(ctx, sink.RedisConfig{
			Addr:     cfg.Sink.RedisAddr,
			Password: cfg.Sink.RedisPassword,
			DB:       cfg.Sink.RedisDB,
			Stream:   cfg.Sink.RedisStream,
			MaxLen:   cfg.Sink.RedisMaxLen,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}
}

// openRepo returns the git working copy holding the store, or nil with a
// warning when the store is not inside one.
func openRepo(logger *log.Logger) *git.Git {
	if err := os.MkdirAll(cfg.Store.Path, 0755); err != nil {
		logger.Printf("WARNING: Publishing disabled: %v", err)
		return nil
	}
	repo, err := git.New(cfg.Store.Path)
	if err != nil {
		logger.Printf("WARNING: Publishing disabled: %v", err)
		return nil
	}
	return repo
}
