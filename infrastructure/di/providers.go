package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"scribe-backend/application/commands"
	"scribe-backend/application/commands/bus"
	"scribe-backend/application/ports"
	"scribe-backend/application/queries"
	querybus "scribe-backend/application/queries/bus"
	"scribe-backend/application/services"
	domaincfg "scribe-backend/domain/config"
	"scribe-backend/infrastructure/agents"
	"scribe-backend/infrastructure/config"
	"scribe-backend/infrastructure/messaging/eventbridge"
	"scribe-backend/infrastructure/persistence/dynamodb"
	"scribe-backend/interfaces/http/rest"
	"scribe-backend/interfaces/http/rest/handlers"
	"scribe-backend/interfaces/websocket"
	"scribe-backend/pkg/auth"
	"scribe-backend/pkg/observability"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	if cfg.Environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		return nil, err
	}

	return logger, nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideDomainConfig creates the domain rule configuration
func ProvideDomainConfig() *domaincfg.DomainConfig {
	return domaincfg.DefaultDomainConfig()
}

// ProvideMetrics creates the Prometheus collector
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	return observability.NewCollector(cfg.MetricsNamespace)
}

// ProvideJWTValidator creates the token validator
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	return auth.NewJWTValidator(auth.JWTConfig{
		SecretKey: cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
	})
}

// ProvideConversationRepository creates the conversation repository
func ProvideConversationRepository(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.ConversationRepository {
	return dynamodb.NewConversationRepository(
		client,
		cfg.DynamoDBTable,
		cfg.IndexName,
		logger,
	)
}

// ProvideMemoryRepository creates the memory repository
func ProvideMemoryRepository(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.MemoryRepository {
	return dynamodb.NewMemoryRepository(
		client,
		cfg.DynamoDBTable,
		logger,
	)
}

// ProvideEventBus creates the EventBridge publisher
func ProvideEventBus(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) ports.EventBus {
	return eventbridge.NewPublisher(
		client,
		cfg.EventBusName,
		logger,
	)
}

// ProvidePolicyStore loads the per-kind agent policies
func ProvidePolicyStore(cfg *config.Config, logger *zap.Logger) (*config.PolicyStore, error) {
	return config.NewPolicyStore(cfg.PoliciesPath, cfg.AgentBaseURL, logger)
}

// ProvideAgentGateway creates the HTTP agent gateway. The policy store
// doubles as its endpoint table.
func ProvideAgentGateway(policies *config.PolicyStore, logger *zap.Logger) ports.AgentGateway {
	return agents.NewHTTPGateway(policies, logger)
}

// ProvidePolicyProvider exposes the policy store as the failure policy port
func ProvidePolicyProvider(policies *config.PolicyStore) ports.PolicyProvider {
	return policies
}

// ProvideWorkerPool creates the bounded extraction dispatch pool
func ProvideWorkerPool(dcfg *domaincfg.DomainConfig, logger *zap.Logger) *services.WorkerPool {
	return services.NewWorkerPool(dcfg.DispatchWorkers, dcfg.DispatchWorkers*4, logger)
}

// ProvideFinalizationScheduler creates the idle deadline scheduler
func ProvideFinalizationScheduler(logger *zap.Logger) *services.FinalizationScheduler {
	return services.NewFinalizationScheduler(logger)
}

// ProvideJobRegistry creates the asynchronous job registry
func ProvideJobRegistry(dcfg *domaincfg.DomainConfig, logger *zap.Logger, metrics *observability.Collector) *services.JobRegistry {
	return services.NewJobRegistry(dcfg.SweepInterval, logger, metrics)
}

// ProvideSessionManager creates the session manager
func ProvideSessionManager(
	conversations ports.ConversationRepository,
	eventBus ports.EventBus,
	scheduler *services.FinalizationScheduler,
	dcfg *domaincfg.DomainConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
) *services.SessionManager {
	return services.NewSessionManager(conversations, eventBus, scheduler, dcfg, logger, metrics)
}

// ProvideOrchestrator creates the post-processing orchestrator and closes the
// finalization loop: session manager -> orchestrator -> job registry.
func ProvideOrchestrator(
	conversations ports.ConversationRepository,
	memories ports.MemoryRepository,
	gateway ports.AgentGateway,
	registry *services.JobRegistry,
	eventBus ports.EventBus,
	pool *services.WorkerPool,
	policies ports.PolicyProvider,
	dcfg *domaincfg.DomainConfig,
	sessions *services.SessionManager,
	logger *zap.Logger,
	metrics *observability.Collector,
) *services.PostProcessingOrchestrator {
	orchestrator := services.NewPostProcessingOrchestrator(
		conversations,
		memories,
		gateway,
		registry,
		eventBus,
		pool,
		policies,
		dcfg,
		logger,
		metrics,
	)
	sessions.SetFinalizer(orchestrator)
	return orchestrator
}

// CommandHandlerAdapter adapts specific command handlers to the generic interface
type CommandHandlerAdapter struct {
	handler func(context.Context, bus.Command) error
}

func (a *CommandHandlerAdapter) Handle(ctx context.Context, cmd bus.Command) error {
	return a.handler(ctx, cmd)
}

// ProvideCommandBus creates a command bus with registered handlers
func ProvideCommandBus(
	sessions *services.SessionManager,
	orchestrator *services.PostProcessingOrchestrator,
	conversations ports.ConversationRepository,
	logger *zap.Logger,
) *bus.CommandBus {
	commandBus := bus.NewCommandBus()

	openHandler := commands.NewOpenSessionHandler(sessions, logger)
	commandBus.Register(&commands.OpenSessionCommand{}, &CommandHandlerAdapter{
		handler: func(ctx context.Context, cmd bus.Command) error {
			openCmd, ok := cmd.(*commands.OpenSessionCommand)
			if !ok {
				return fmt.Errorf("invalid command type")
			}
			return openHandler.Handle(ctx, openCmd)
		},
	})

	appendHandler := commands.NewAppendSegmentsHandler(sessions, logger)
	commandBus.Register(&commands.AppendSegmentsCommand{}, &CommandHandlerAdapter{
		handler: func(ctx context.Context, cmd bus.Command) error {
			appendCmd, ok := cmd.(*commands.AppendSegmentsCommand)
			if !ok {
				return fmt.Errorf("invalid command type")
			}
			return appendHandler.Handle(ctx, appendCmd)
		},
	})

	closeHandler := commands.NewCloseSessionHandler(sessions, logger)
	commandBus.Register(&commands.CloseSessionCommand{}, &CommandHandlerAdapter{
		handler: func(ctx context.Context, cmd bus.Command) error {
			closeCmd, ok := cmd.(*commands.CloseSessionCommand)
			if !ok {
				return fmt.Errorf("invalid command type")
			}
			return closeHandler.Handle(ctx, closeCmd)
		},
	})

	discardHandler := commands.NewDiscardConversationHandler(conversations, orchestrator, logger)
	commandBus.Register(&commands.DiscardConversationCommand{}, &CommandHandlerAdapter{
		handler: func(ctx context.Context, cmd bus.Command) error {
			discardCmd, ok := cmd.(*commands.DiscardConversationCommand)
			if !ok {
				return fmt.Errorf("invalid command type")
			}
			return discardHandler.Handle(ctx, discardCmd)
		},
	})

	return commandBus
}

// QueryHandlerAdapter adapts specific query handlers to the generic interface
type QueryHandlerAdapter struct {
	handler func(context.Context, querybus.Query) (interface{}, error)
}

func (a *QueryHandlerAdapter) Handle(ctx context.Context, query querybus.Query) (interface{}, error) {
	return a.handler(ctx, query)
}

// ProvideQueryBus creates a query bus with registered handlers
func ProvideQueryBus(
	conversations ports.ConversationRepository,
	memories ports.MemoryRepository,
	registry *services.JobRegistry,
	cache querybus.Cache,
	logger *zap.Logger,
) *querybus.QueryBus {
	queryBus := querybus.NewQueryBus()

	getConversationHandler := queries.NewGetConversationHandler(conversations, memories, logger)
	queryBus.Register(queries.GetConversationQuery{}, &QueryHandlerAdapter{
		handler: func(ctx context.Context, query querybus.Query) (interface{}, error) {
			getQuery, ok := query.(queries.GetConversationQuery)
			if !ok {
				return nil, fmt.Errorf("invalid query type")
			}
			return getConversationHandler.Handle(ctx, getQuery)
		},
	})

	// The list view tolerates a few seconds of staleness; individual
	// conversation reads stay uncached so callers see processing progress.
	listHandler := queries.NewListConversationsHandler(conversations, logger)
	caching := querybus.NewCachingMiddleware(cache, 10)
	queryBus.Register(queries.ListConversationsQuery{}, caching.Wrap(&QueryHandlerAdapter{
		handler: func(ctx context.Context, query querybus.Query) (interface{}, error) {
			listQuery, ok := query.(queries.ListConversationsQuery)
			if !ok {
				return nil, fmt.Errorf("invalid query type")
			}
			return listHandler.Handle(ctx, listQuery)
		},
	}))

	jobHandler := queries.NewGetJobStatusHandler(registry)
	queryBus.Register(queries.GetJobStatusQuery{}, &QueryHandlerAdapter{
		handler: func(ctx context.Context, query querybus.Query) (interface{}, error) {
			jobQuery, ok := query.(queries.GetJobStatusQuery)
			if !ok {
				return nil, fmt.Errorf("invalid query type")
			}
			return jobHandler.Handle(ctx, jobQuery)
		},
	})

	return queryBus
}

// ProvideQueryCache creates the process-local read cache. A shared Redis
// tier would slot in behind the same port.
func ProvideQueryCache() querybus.Cache {
	return newQueryCache()
}

// ProvideStreamServer creates the websocket ingestion server
func ProvideStreamServer(
	sessions *services.SessionManager,
	commandBus *bus.CommandBus,
	logger *zap.Logger,
) *websocket.Server {
	return websocket.NewServer(sessions, commandBus, nil, logger)
}

// ProvideRouter assembles the REST handlers and routing table
func ProvideRouter(
	cfg *config.Config,
	validator *auth.JWTValidator,
	metrics *observability.Collector,
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	registry *services.JobRegistry,
	stream *websocket.Server,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(
		cfg,
		validator,
		metrics,
		handlers.NewSessionHandler(commandBus, logger),
		handlers.NewConversationHandler(commandBus, queryBus, logger),
		handlers.NewJobHandler(queryBus, logger),
		handlers.NewCallbackHandler(registry, logger),
		stream,
		logger,
	)
}
