package engine

import (
	"fmt"
	"strings"

	"github.com/shaiso/conveyor/internal/domain"
)

// TriggerFunc определяет, относится ли тип узла к категории trigger.
type TriggerFunc func(nodeType string) bool

// DefaultIsTrigger считает триггером любой тип, содержащий "trigger".
func DefaultIsTrigger(nodeType string) bool {
	return strings.Contains(nodeType, "trigger")
}

// DefaultIsBranch: узлы-условия без реестра.
func DefaultIsBranch(nodeType string) bool {
	return strings.Contains(nodeType, "condition") || nodeType == "switch"
}

// ValidationResult: результат проверки графа.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Err возвращает *ValidationError для невалидного результата и nil для валидного.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return NewValidationError(r.Errors...)
}

// Validator проверяет структуру workflow перед выполнением.
type Validator struct {
	isTrigger TriggerFunc
}

// NewValidator создаёт валидатор. Nil isTrigger заменяется на DefaultIsTrigger.
func NewValidator(isTrigger TriggerFunc) *Validator {
	if isTrigger == nil {
		isTrigger = DefaultIsTrigger
	}
	return &Validator{isTrigger: isTrigger}
}

// Validate проверяет граф.
//
// Проверки выполняются по порядку:
//  1. хотя бы один узел (иначе дальнейшие проверки не выполняются)
//  2. хотя бы один узел-триггер
//  3. уникальность ID узлов
//  4. source/target каждого ребра существуют
//  5. отсутствие циклов (DFS со стеком рекурсии, сообщается первый найденный цикл)
func (v *Validator) Validate(nodes []domain.Node, edges []domain.Edge) ValidationResult {
	if len(nodes) == 0 {
		return ValidationResult{Errors: []string{"Workflow must have at least one node"}}
	}

	var errs []string

	hasTrigger := false
	for _, n := range nodes {
		if v.isTrigger(n.Type) {
			hasTrigger = true
			break
		}
	}
	if !hasTrigger {
		errs = append(errs, "Workflow must have at least one trigger node")
	}

	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			errs = append(errs, "Node has empty id")
			continue
		}
		if ids[n.ID] {
			errs = append(errs, fmt.Sprintf("Duplicate node id: %s", n.ID))
		}
		ids[n.ID] = true
	}

	for _, e := range edges {
		if !ids[e.Source] {
			errs = append(errs, fmt.Sprintf("Edge references non-existent source node: %s", e.Source))
		}
		if !ids[e.Target] {
			errs = append(errs, fmt.Sprintf("Edge references non-existent target node: %s", e.Target))
		}
	}

	if cycle := findCycle(nodes, edges, ids); cycle != nil {
		errs = append(errs, fmt.Sprintf("%s: %s", ErrCycleDetected.Error(), strings.Join(cycle, " -> ")))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateWorkflow: обёртка над Validate, возвращающая error.
func (v *Validator) ValidateWorkflow(wf *domain.Workflow) error {
	return v.Validate(wf.Nodes, wf.Edges).Err()
}

// findCycle ищет цикл обходом в глубину.
// Возвращает путь цикла (первый узел повторяется в конце) или nil.
// Рёбра на несуществующие узлы игнорируются.
func findCycle(nodes []domain.Node, edges []domain.Edge, ids map[string]bool) []string {
	adj := make(map[string][]string, len(nodes))
	for _, e := range edges {
		if ids[e.Source] && ids[e.Target] {
			adj[e.Source] = append(adj[e.Source], e.Target)
		}
	}

	visited := make(map[string]bool, len(nodes))
	onStack := make(map[string]bool, len(nodes))
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, next := range adj[id] {
			if onStack[next] {
				// Цикл: от первого вхождения next в стеке до текущего узла
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						break
					}
				}
				return true
			}
			if !visited[next] && dfs(next) {
				return true
			}
		}

		onStack[id] = false
		stack = stack[:len(stack)-1]
		return false
	}

	for _, n := range nodes {
		if !visited[n.ID] && dfs(n.ID) {
			return cycle
		}
	}
	return nil
}
