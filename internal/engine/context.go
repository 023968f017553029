package engine

import (
	"github.com/shaiso/conveyor/internal/domain"
)

// NodeErrorEntry: ошибка узла, накопленная за выполнение.
type NodeErrorEntry struct {
	NodeID string            `json:"node_id"`
	Error  *domain.NodeError `json:"error"`
}

// ExecutionContext: состояние одного выполнения.
//
// Контекст принадлежит одному оркестратору и не разделяется между горутинами,
// поэтому синхронизации нет.
type ExecutionContext struct {
	Workflow    *domain.Workflow
	Execution   *domain.Execution
	TriggerData map[string]any

	// IsBranch: типы узлов, чей path управляет рёбрами с SourceHandle.
	IsBranch TriggerFunc

	results map[string]domain.NodeResult
	order   []string
	skipped map[string]bool
	errors  []NodeErrorEntry
}

// NewExecutionContext создаёт пустой контекст выполнения.
func NewExecutionContext(wf *domain.Workflow, exec *domain.Execution, trigger map[string]any) *ExecutionContext {
	if trigger == nil {
		trigger = make(map[string]any)
	}
	return &ExecutionContext{
		Workflow:    wf,
		Execution:   exec,
		TriggerData: trigger,
		IsBranch:    DefaultIsBranch,
		results:     make(map[string]domain.NodeResult),
		skipped:     make(map[string]bool),
	}
}

// SetNodeResult сохраняет результат узла. Повторная запись заменяет значение,
// не меняя позиции узла в порядке вставки.
func (c *ExecutionContext) SetNodeResult(nodeID string, result domain.NodeResult) {
	if _, exists := c.results[nodeID]; !exists {
		c.order = append(c.order, nodeID)
	}
	c.results[nodeID] = result
}

// GetNodeResult возвращает результат узла.
func (c *ExecutionContext) GetNodeResult(nodeID string) (domain.NodeResult, bool) {
	r, ok := c.results[nodeID]
	return r, ok
}

// AllResults возвращает ID узлов с результатами в порядке вставки.
func (c *ExecutionContext) AllResults() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Results возвращает копию всех результатов.
func (c *ExecutionContext) Results() map[string]domain.NodeResult {
	out := make(map[string]domain.NodeResult, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// Outputs возвращает данные выполненных узлов (nodeID → data) для подстановок.
func (c *ExecutionContext) Outputs() map[string]map[string]any {
	out := make(map[string]map[string]any, len(c.results))
	for k, v := range c.results {
		out[k] = v.Data
	}
	return out
}

// MarkSkipped помечает узел пропущенным.
func (c *ExecutionContext) MarkSkipped(nodeID string) {
	c.skipped[nodeID] = true
}

// IsSkipped возвращает true для пропущенного узла.
func (c *ExecutionContext) IsSkipped(nodeID string) bool {
	return c.skipped[nodeID]
}

// AddError добавляет ошибку узла.
func (c *ExecutionContext) AddError(nodeID string, err *domain.NodeError) {
	c.errors = append(c.errors, NodeErrorEntry{NodeID: nodeID, Error: err})
}

// HasErrors возвращает true, если были ошибки.
func (c *ExecutionContext) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors возвращает ошибки в порядке возникновения.
func (c *ExecutionContext) Errors() []NodeErrorEntry {
	out := make([]NodeErrorEntry, len(c.errors))
	copy(out, c.errors)
	return out
}

// IsEdgeActive проверяет, передаёт ли ребро управление.
//
// Ребро неактивно, если источник пропущен или не выполнен. Ребро с SourceHandle
// от узла-условия активно только при совпадении с выбранным path; у остальных
// узлов SourceHandle игнорируется.
func (c *ExecutionContext) IsEdgeActive(edge domain.Edge) bool {
	if c.skipped[edge.Source] {
		return false
	}
	res, ok := c.results[edge.Source]
	if !ok {
		return false
	}
	if edge.SourceHandle == "" || !c.isBranch(edge.Source) {
		return true
	}
	path := res.Path()
	return path == "" || path == edge.SourceHandle
}

func (c *ExecutionContext) isBranch(nodeID string) bool {
	if c.IsBranch == nil || c.Workflow == nil {
		return false
	}
	node, ok := c.Workflow.FindNode(nodeID)
	return ok && c.IsBranch(node.Type)
}

// ResolveInput вычисляет вход узла.
//
// Без входящих рёбер: payload триггера для узла-триггера, иначе пустой объект.
// С входящими рёбрами: выход источника только первого объявленного ребра,
// остальные рёбра на данные не влияют.
func (c *ExecutionContext) ResolveInput(node *domain.Node, isTrigger bool) map[string]any {
	incoming := c.Workflow.IncomingEdges(node.ID)
	if len(incoming) == 0 {
		if isTrigger {
			return c.TriggerData
		}
		return make(map[string]any)
	}

	res, ok := c.results[incoming[0].Source]
	if !ok || res.Data == nil {
		return make(map[string]any)
	}
	return res.Data
}
