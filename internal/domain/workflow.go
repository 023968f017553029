package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workflow описывает автоматизацию: граф узлов, связанных рёбрами.
//
// Движок получает Workflow целиком и не изменяет его.
// Редактирование и хранение версий происходят за пределами движка.
type Workflow struct {
	// ID: уникальный идентификатор workflow.
	ID uuid.UUID `json:"id"`

	// OrganizationID: владелец workflow. Используется для поиска
	// credentials и политик включения узлов.
	OrganizationID uuid.UUID `json:"organization_id"`

	// Name: человекочитаемое имя.
	Name string `json:"name"`

	// Description: описание назначения workflow.
	Description string `json:"description,omitempty"`

	// Nodes: узлы графа в порядке объявления.
	// Порядок важен: топологическая сортировка использует его как tie-breaker.
	Nodes []Node `json:"nodes"`

	// Edges: рёбра графа. Порядок важен для выбора входа узла.
	Edges []Edge `json:"edges"`

	// Triggers: ID узлов-триггеров, через которые workflow может быть запущен.
	// Информационное поле: движок определяет триггеры по категории типа узла.
	Triggers []string `json:"triggers,omitempty"`

	// Settings: настройки выполнения на уровне workflow.
	Settings WorkflowSettings `json:"settings"`

	// IsActive: неактивные workflow не запускаются по расписанию и webhook.
	IsActive bool `json:"is_active"`

	// LastExecutedAt: время последнего завершённого выполнения.
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`

	// ExecutionCount: количество завершённых выполнений.
	ExecutionCount int `json:"execution_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowSettings: настройки выполнения workflow.
type WorkflowSettings struct {
	// ContinueOnFail: значение по умолчанию для узлов без собственной настройки.
	ContinueOnFail bool `json:"continue_on_fail,omitempty"`

	// Timezone: часовой пояс для расписаний workflow.
	Timezone string `json:"timezone,omitempty"`
}

// Node: узел workflow.
type Node struct {
	// ID: уникальный идентификатор узла в рамках workflow.
	ID string `json:"id"`

	// Type: ключ типа в реестре узлов ("http-request", "if-condition", ...).
	Type string `json:"type"`

	// Name: имя узла для отображения.
	Name string `json:"name,omitempty"`

	// Position: координаты в редакторе. Движок их не использует.
	Position *Position `json:"position,omitempty"`

	// Data: параметры узла. Строковые значения могут содержать плейсхолдеры
	// {{input.x}}, {{trigger.x}}, {{credentials.x}}, {{$node.id.path}}.
	Data map[string]any `json:"data,omitempty"`

	// CredentialID: ссылка на зашифрованные credentials организации.
	CredentialID *uuid.UUID `json:"credential_id,omitempty"`

	// Settings: настройки выполнения узла.
	Settings *NodeSettings `json:"settings,omitempty"`
}

// Position: координаты узла на холсте редактора.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeSettings: настройки выполнения узла.
type NodeSettings struct {
	// TimeoutSec: таймаут одной попытки в секундах.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// Retries: политика повторов внутри узла (используется http-request).
	Retries *RetryPolicy `json:"retries,omitempty"`

	// ContinueOnFail: продолжать выполнение workflow при ошибке узла.
	// Nil означает "взять значение из WorkflowSettings".
	ContinueOnFail *bool `json:"continue_on_fail,omitempty"`
}

// RetryPolicy: политика повторных попыток.
type RetryPolicy struct {
	// MaxAttempts: максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Backoff: стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty"`

	// DelayMs: задержка между попытками (начальная для exponential).
	DelayMs int `json:"delay_ms,omitempty"`

	// MaxDelayMs: верхняя граница задержки.
	MaxDelayMs int `json:"max_delay_ms,omitempty"`
}

// Значения RetryPolicy по умолчанию.
const (
	DefaultRetryDelay    = time.Second
	DefaultRetryMaxDelay = 30 * time.Second
)

// Attempts возвращает максимальное число попыток (минимум 1).
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Delay вычисляет задержку перед попыткой attempt+1.
//
// fixed: DelayMs на каждую попытку; exponential: DelayMs * 2^(attempt-1).
// Результат ограничен MaxDelayMs.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if p == nil {
		return DefaultRetryDelay
	}

	initialDelay := time.Duration(p.DelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = DefaultRetryDelay
	}

	maxDelay := time.Duration(p.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = DefaultRetryMaxDelay
	}

	delay := initialDelay
	if p.Backoff == "exponential" {
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				break
			}
		}
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Edge: направленное ребро между узлами.
type Edge struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`

	// SourceHandle: ветка узла-условия, активирующая ребро ("true", "false",
	// путь switch). Пустое значение означает безусловное ребро.
	SourceHandle string `json:"source_handle,omitempty"`
}

// FindNode возвращает узел по ID.
func (w *Workflow) FindNode(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// IncomingEdges возвращает входящие рёбра узла в порядке объявления.
func (w *Workflow) IncomingEdges(nodeID string) []Edge {
	var edges []Edge
	for _, e := range w.Edges {
		if e.Target == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// ContinueOnFail возвращает итоговое значение continueOnFail для узла.
func (w *Workflow) ContinueOnFail(node *Node) bool {
	if node.Settings != nil && node.Settings.ContinueOnFail != nil {
		return *node.Settings.ContinueOnFail
	}
	return w.Settings.ContinueOnFail
}
