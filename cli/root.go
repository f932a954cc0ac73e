package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/defensight/defensight/engine/assembler"
	"github.com/defensight/defensight/engine/completion"
	"github.com/defensight/defensight/engine/embedder"
	"github.com/defensight/defensight/engine/ingest"
	"github.com/defensight/defensight/engine/session"
	"github.com/defensight/defensight/engine/tokens"
	"github.com/defensight/defensight/engine/vectordb"
	"github.com/defensight/defensight/pkg/config"
	"github.com/defensight/defensight/pkg/logger"
)

// RootCmd builds the defensight command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "defensight",
		Short:         "Security log analysis assistant",
		Long:          "DefenSight indexes normalized security logs into a vector store and answers natural-language security questions with retrieval-augmented generation.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
	root.PersistentFlags().Bool("log-source", false, "include source locations in logs")
	root.AddCommand(
		ChatCmd(),
		QueryCmd(),
		SimilarCmd(),
		ReportCmd(),
		IngestCmd(),
		StatsCmd(),
		ClearSessionCmd(),
	)
	return root
}

// Execute runs the CLI and reports failure through the exit code.
func Execute() {
	if err := RootCmd().Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// app is the process-wide service context: every provider handle is
// constructed once here and passed by injection, never held as a package
// singleton.
type app struct {
	cfg       *config.Config
	estimator tokens.Estimator
	embedder  *embedder.Adapter
	store     vectordb.Store
	assembler *assembler.Service
	session   *session.Manager
	ingest    *ingest.Adapter
}

// newApp loads configuration, sets up logging from the global flags, and
// wires the retrieval stack. Configuration failures are fatal before any
// request is served.
func newApp(cmd *cobra.Command) (context.Context, *app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	level, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if level == "" {
		level = cfg.Log.Level
	}
	logger.SetupLogger(level, logJSON || cfg.Log.JSON, logSource || cfg.Log.Source)
	ctx = logger.ContextWithLogger(ctx, logger.GetDefault())
	emb, err := embedder.New(ctx, &embedder.Config{
		Provider:  embedder.Provider(cfg.Embedding.Provider),
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
		ModelsDir: cfg.Embedding.ModelsDir,
		ProjectID: cfg.Embedding.ProjectID,
		Location:  cfg.Embedding.Location,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Embedding.CacheSize > 0 {
		if err := emb.EnableCache(cfg.Embedding.CacheSize); err != nil {
			return nil, nil, err
		}
	}
	store, err := vectordb.New(ctx, &vectordb.Config{
		Provider:   vectordb.Provider(cfg.Index.Provider),
		DSN:        cfg.Index.DSN,
		Path:       cfg.Index.Path,
		Collection: cfg.Index.Collection,
		Metric:     cfg.Index.Metric,
		Dimension:  cfg.Embedding.Dimension,
		MaxTopK:    cfg.Index.MaxTopK,
		APIKey:     cfg.Index.APIKey,
	})
	if err != nil {
		return nil, nil, err
	}
	estimator := tokens.NewTiktokenEstimator(cfg.Tokens.Encoding)
	asm, err := assembler.NewService(emb, store, estimator)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := session.NewManager(store, session.Config{
		StatsSampleLimit:   cfg.Session.StatsSampleLimit,
		NormalizedDir:      cfg.Session.NormalizedDir,
		RawDir:             cfg.Session.RawDir,
		EmbeddingDimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, nil, err
	}
	adapter, err := ingest.NewAdapter(emb, store, ingest.Config{BatchSize: cfg.Embedding.BatchSize})
	if err != nil {
		return nil, nil, err
	}
	return ctx, &app{
		cfg:       cfg,
		estimator: estimator,
		embedder:  emb,
		store:     store,
		assembler: asm,
		session:   mgr,
		ingest:    adapter,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.store.Close(ctx); err != nil {
		logger.FromContext(ctx).Warn("failed to close vector store", "error", err)
	}
}

// wrapperRole selects which call site's retry and budget settings apply.
type wrapperRole int

const (
	roleChat wrapperRole = iota
	roleQuery
	roleReport
)

// completionWrapper wires a completion client for one call site. A missing
// API key on a hosted provider is a startup failure, not a request failure.
func (a *app) completionWrapper(role wrapperRole) (*completion.Wrapper, error) {
	cc := a.cfg.Completion
	if cc.APIKey == "" && completion.Provider(cc.Provider) != completion.ProviderOllama {
		return nil, fmt.Errorf(
			"completion provider %q requires an API key (set %sCOMPLETION_API_KEY)",
			cc.Provider, config.EnvPrefix,
		)
	}
	client, err := completion.NewClient(&completion.Config{
		Provider: completion.Provider(cc.Provider),
		Model:    cc.Model,
		APIKey:   cc.APIKey,
		BaseURL:  cc.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	wcfg := completion.WrapperConfig{
		Retries:                 cc.Retries,
		RetryBaseDelay:          cc.RetryBaseDelay,
		OversizePolicy:          completion.OversizePolicy(cc.OversizePolicy),
		WarnThresholdTokens:     cc.WarnThresholdTokens,
		TruncateThresholdTokens: cc.TruncateThresholdTokens,
		TruncateContextChars:    cc.TruncateContextChars,
		Temperature:             cc.Temperature,
		MaxTokens:               cc.MaxTokens,
	}
	switch role {
	case roleQuery:
		// The single-shot path historically truncated oversized requests
		// instead of warning.
		wcfg.OversizePolicy = completion.OversizeTruncate
		wcfg.MaxTokens = cc.RAGMaxTokens
	case roleReport:
		wcfg.Retries = cc.ReportRetries
		wcfg.RetryBaseDelay = cc.ReportRetryBaseDelay
		wcfg.MaxTokens = cc.RAGMaxTokens
	}
	return completion.NewWrapper(client, a.estimator, wcfg)
}

var errConfirmationRequired = errors.New("destructive operation requires --yes")
