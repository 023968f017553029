package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
	"github.com/shaiso/conveyor/internal/nodes"
	"github.com/shaiso/conveyor/internal/repo"
	"github.com/shaiso/conveyor/internal/trigger"
)

// Canceler отменяет выполнения. Реализуется orchestrator.Engine.
type Canceler interface {
	Cancel(ctx context.Context, executionID uuid.UUID) error
}

// Sealer шифрует данные credentials. Реализуется credentials.Resolver.
type Sealer interface {
	Seal(data map[string]any) ([]byte, error)
}

// PolicyCache сбрасывает кэш политик после изменения.
// Реализуется governance.CachedChecker.
type PolicyCache interface {
	Invalidate(orgID uuid.UUID, nodeType string)
}

// Handler: обработчики API с зависимостями.
type Handler struct {
	stores    *repo.Stores
	triggers  *trigger.Service
	canceler  Canceler
	registry  *nodes.Registry
	validator *engine.Validator
	sealer    Sealer
	policies  PolicyCache
	logger    *slog.Logger
}

// Config: конфигурация Handler.
type Config struct {
	Stores   *repo.Stores
	Triggers *trigger.Service
	Canceler Canceler
	Registry *nodes.Registry

	// Sealer: опционально. Без него создание credentials недоступно.
	Sealer Sealer

	// Policies: опционально.
	Policies PolicyCache

	Logger *slog.Logger
}

// NewHandler создаёт Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Registry == nil {
		cfg.Registry = nodes.DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		stores:    cfg.Stores,
		triggers:  cfg.Triggers,
		canceler:  cfg.Canceler,
		registry:  cfg.Registry,
		validator: engine.NewValidator(cfg.Registry.IsTrigger),
		sealer:    cfg.Sealer,
		policies:  cfg.Policies,
		logger:    cfg.Logger.With("component", "api"),
	}
}

// webhookTrigger находит первый узел-триггер, принимающий webhook.
func (h *Handler) webhookTrigger(wf *domain.Workflow) (nodes.Trigger, bool) {
	for _, n := range wf.Nodes {
		if n.Type != nodes.TypeWebhookTrigger && n.Type != nodes.TypeEventTrigger {
			continue
		}
		if t, err := h.registry.Trigger(n.Type); err == nil {
			return t, true
		}
	}
	return nil, false
}
