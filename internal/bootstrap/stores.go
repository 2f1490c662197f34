package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/laitim2001/freight-mapping-engine/internal/config"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/repository/memory"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/repository/postgres"
)

const (
	backendPostgres = "postgres"
	backendMemory   = "memory"
)

type stores struct {
	rules       ports.RuleVersionStore
	corrections ports.CorrectionStore
	suggestions ports.SuggestionStore
	mappings    ports.MappingStore
	accuracy    ports.AccuracySource
	close       func()
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	switch cfg.StoreBackend {
	case backendMemory:
		store := memory.NewStore()
		logger.Warn("memory_store_selected", "detail", "engine state is lost on restart")
		return stores{
			rules:       store,
			corrections: store,
			suggestions: store,
			mappings:    store,
			accuracy:    store,
			close:       func() {},
		}, nil
	case backendPostgres:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return stores{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := postgres.Migrate(db); err != nil {
				_ = db.Close()
				return stores{}, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return stores{}, fmt.Errorf("ping postgres: %w", err)
		}
		mappings := postgres.NewMappingStore(db)
		return stores{
			rules:       postgres.NewRuleStore(db),
			corrections: postgres.NewCorrectionStore(db),
			suggestions: postgres.NewSuggestionStore(db),
			mappings:    mappings,
			accuracy:    mappings,
			close:       func() { _ = db.Close() },
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
