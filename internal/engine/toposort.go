package engine

import "github.com/shaiso/conveyor/internal/domain"

// graph: списки смежности и полустепени захода.
type graph struct {
	order      []string
	dependents map[string][]string
	inDegree   map[string]int
}

func buildGraph(nodes []domain.Node, edges []domain.Edge) *graph {
	g := &graph{
		order:      make([]string, 0, len(nodes)),
		dependents: make(map[string][]string, len(nodes)),
		inDegree:   make(map[string]int, len(nodes)),
	}
	for _, n := range nodes {
		if _, ok := g.inDegree[n.ID]; ok {
			continue
		}
		g.order = append(g.order, n.ID)
		g.inDegree[n.ID] = 0
	}
	for _, e := range edges {
		if _, ok := g.inDegree[e.Source]; !ok {
			continue
		}
		if _, ok := g.inDegree[e.Target]; !ok {
			continue
		}
		g.dependents[e.Source] = append(g.dependents[e.Source], e.Target)
		g.inDegree[e.Target]++
	}
	return g
}

// kahn выполняет алгоритм Кана и возвращает уровни.
// Очередь засевается узлами без входящих рёбер в порядке объявления.
func (g *graph) kahn() ([][]string, error) {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}
	depth := make(map[string]int, len(g.order))

	queue := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var levels [][]string
	visited := 0

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		d := depth[id]
		if d == len(levels) {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], id)

		for _, next := range g.dependents[id] {
			if depth[next] < d+1 {
				depth[next] = d + 1
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(g.order) {
		return nil, ErrCycleDetected
	}
	return levels, nil
}

// TopologicalSort возвращает порядок выполнения узлов (алгоритм Кана).
//
// Порядок детерминирован: при равенстве выигрывает узел, объявленный раньше.
// Возвращает ErrCycleDetected, если не все узлы удалось упорядочить.
func TopologicalSort(nodes []domain.Node, edges []domain.Edge) ([]string, error) {
	g := buildGraph(nodes, edges)

	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	queue := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, next := range g.dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.order) {
		return nil, ErrCycleDetected
	}
	return order, nil
}

// ExecutionLevels группирует узлы по глубине зависимостей.
//
// Уровень 0: узлы без входящих рёбер; узел попадает на уровень
// max(уровень родителя)+1. Внутри уровня порядок соответствует порядку обхода.
// Движок пока выполняет узлы последовательно и уровни не использует.
func ExecutionLevels(nodes []domain.Node, edges []domain.Edge) ([][]string, error) {
	return buildGraph(nodes, edges).kahn()
}
