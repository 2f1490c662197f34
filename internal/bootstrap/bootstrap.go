package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/laitim2001/freight-mapping-engine/internal/config"
	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
	"github.com/laitim2001/freight-mapping-engine/internal/core/usecase"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/queue/nats"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/resilience"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/ruleset"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/seed"
)

// Options selects the optional collaborators a binary needs.
type Options struct {
	Logger  *slog.Logger
	Metrics ports.EngineMetrics
	// Queue connects to NATS for extraction events and reviewer notices.
	Queue bool
}

type App struct {
	Config config.Config
	Policy domain.EnginePolicy
	Logger *slog.Logger

	Rules     ports.RuleVersionStore
	RuleCache *ruleset.Cache
	Queue     *nats.Queue

	MapUC        *usecase.MapDocumentUseCase
	CorrectionUC *usecase.CorrectionUseCase
	SuggestionUC *usecase.SuggestionUseCase
	VersionUC    *usecase.VersionUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}

	policy := cfg.Policy()
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers := []func(){st.close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	executor := resilience.NewExecutor(cfg.Resilience(), logger)
	classifier, err := newClassifier(cfg, executor)
	if err != nil {
		closeAll()
		return nil, err
	}

	var queue *nats.Queue
	var notifier ports.ReviewerNotifier
	if opts.Queue {
		queue, err = nats.New(cfg.NATSURL, nats.Options{
			ExtractionSubject:  cfg.NATSExtractionSubject,
			NotifySubject:      cfg.NATSNotifySubject,
			QueueGroup:         cfg.NATSQueueGroup,
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		closers = append(closers, queue.Close)
		notifier = queue
	}

	cache := ruleset.NewCache(st.rules, logger)
	versionUC := usecase.NewVersionUseCase(st.rules, st.accuracy, cache, policy.Rollback, logger, metrics)

	if cfg.SeedRulesPath != "" {
		if err := seedRules(ctx, cfg.SeedRulesPath, st.rules, versionUC, logger); err != nil {
			closeAll()
			return nil, err
		}
	}
	if err := cache.Refresh(ctx); err != nil {
		closeAll()
		return nil, fmt.Errorf("load rule cache: %w", err)
	}

	resolver := usecase.NewTierResolver(cache, classifier, policy, logger, metrics)
	mapUC := usecase.NewMapDocumentUseCase(resolver, st.accuracy, st.mappings, policy, cfg.MapConcurrency, logger, metrics)
	correctionUC := usecase.NewCorrectionUseCase(st.corrections, st.mappings, cache, notifier, policy.Learning, logger, metrics)
	suggestionUC := usecase.NewSuggestionUseCase(st.suggestions, versionUC, logger, metrics)

	logger.Info("engine_ready",
		"store_backend", cfg.StoreBackend,
		"classifier_provider", cfg.ClassifierProvider,
		"rules", cache.Size(),
		"queue", opts.Queue,
	)

	return &App{
		Config: cfg,
		Policy: policy,
		Logger: logger,

		Rules:     st.rules,
		RuleCache: cache,
		Queue:     queue,

		MapUC:        mapUC,
		CorrectionUC: correctionUC,
		SuggestionUC: suggestionUC,
		VersionUC:    versionUC,

		closeFn: func() {
			correctionUC.WaitNotifications()
			closeAll()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func seedRules(ctx context.Context, path string, repo ports.RuleRepository, versions ports.RuleVersioner, logger *slog.Logger) error {
	rules, err := seed.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load seed rules: %w", err)
	}
	result, err := seed.Apply(ctx, rules, repo, versions)
	if err != nil {
		return fmt.Errorf("apply seed rules: %w", err)
	}
	logger.Info("seed_rules_applied", "path", path, "created", len(result.Created), "skipped", len(result.Skipped))
	return nil
}
