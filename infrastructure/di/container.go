package di

import (
	"go.uber.org/zap"

	"scribe-backend/application/commands/bus"
	"scribe-backend/application/ports"
	querybus "scribe-backend/application/queries/bus"
	"scribe-backend/application/services"
	domaincfg "scribe-backend/domain/config"
	"scribe-backend/infrastructure/config"
	"scribe-backend/interfaces/http/rest"
	"scribe-backend/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config           *config.Config
	DomainConfig     *domaincfg.DomainConfig
	Logger           *zap.Logger
	Metrics          *observability.Collector
	ConversationRepo ports.ConversationRepository
	MemoryRepo       ports.MemoryRepository
	EventBus         ports.EventBus
	PolicyStore      *config.PolicyStore
	Gateway          ports.AgentGateway
	WorkerPool       *services.WorkerPool
	Scheduler        *services.FinalizationScheduler
	JobRegistry      *services.JobRegistry
	SessionManager   *services.SessionManager
	Orchestrator     *services.PostProcessingOrchestrator
	CommandBus       *bus.CommandBus
	QueryBus         *querybus.QueryBus
	Router           *rest.Router
}
