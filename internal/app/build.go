package app

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"english-tutor/handler"
	"english-tutor/internal/config"
	"english-tutor/internal/integrations/openai"
	"english-tutor/internal/integrations/paramstore"
	"english-tutor/internal/observability"
	"english-tutor/internal/repository"
	"english-tutor/internal/usecase"
)

// Version is stamped at build time with -ldflags "-X english-tutor/internal/app.Version=...".
var Version = "dev"

type BuildResult struct {
	Config  config.Config
	Handler *handler.Handler
	Store   repository.Store
	Metrics *observability.Metrics
}

// Build wires the store, the model client, the service and the HTTP handler
// from cfg. Both entrypoints go through here.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var awsClients struct {
		dynamo *awsdynamodb.Client
		ssm    *awsssm.Client
	}
	if cfg.UsesAWS() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsClients.dynamo = awsdynamodb.NewFromConfig(awsCfg)
		awsClients.ssm = awsssm.NewFromConfig(awsCfg)
	}

	storeCfg := repository.StoreConfig{
		Backend:   cfg.StorageBackend,
		Path:      cfg.SessionPath,
		TableName: cfg.StateTable,
	}
	if cfg.StorageBackend == config.BackendDynamoDB {
		storeCfg.DynamoDB = awsClients.dynamo
	}
	store, err := repository.NewStore(storeCfg,
		repository.WithRetention(cfg.SessionRetention),
		repository.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("app: session store init failed: %w", err)
	}

	llmOpts := []openai.Option{
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithModel(cfg.OpenAIModel),
	}
	if cfg.OpenAIAPIKey != "" {
		llmOpts = append(llmOpts, openai.WithAPIKey(cfg.OpenAIAPIKey))
	} else {
		params, err := paramstore.New(awsClients.ssm, cfg.ParamPrefix)
		if err != nil {
			return nil, fmt.Errorf("app: paramstore init failed: %w", err)
		}
		llmOpts = append(llmOpts, openai.WithParamStore(params))
	}
	llm, err := openai.NewClient(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: openai client init failed: %w", err)
	}

	svc, err := usecase.NewService(llm, store, logger, cfg.LLMTimeout, cfg.MaxMessageLength)
	if err != nil {
		return nil, fmt.Errorf("app: service init failed: %w", err)
	}

	h, err := handler.NewHandler(svc,
		handler.WithLogger(logger),
		handler.WithMetrics(metrics),
		handler.WithCORSOrigins(cfg.CORSOrigins),
		handler.WithVersion(Version),
	)
	if err != nil {
		return nil, fmt.Errorf("app: handler init failed: %w", err)
	}

	logger.Info("service built",
		"storage_backend", cfg.StorageBackend,
		"model", llm.Model(),
		"retention", cfg.SessionRetention.String(),
		"version", Version,
	)
	return &BuildResult{Config: cfg, Handler: h, Store: store, Metrics: metrics}, nil
}
