package engine

import (
	"fmt"

	"github.com/shaiso/conveyor/internal/domain"
)

// Node — узел графа зависимостей.
type Node struct {
	// Step — определение шага верхнего уровня.
	Step *domain.Step

	// ID — идентификатор шага.
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// Graph — направленный ациклический граф шагов workflow.
//
// Узлами становятся только шаги верхнего уровня: вложенные шаги
// (loop, scatter, parallel_group, ветки sub_workflow) выполняются
// внутри родительского шага и в графе не участвуют. Цели ветвления
// маршрутизаторов (conditional, switch, decision) получают неявное
// ребро от маршрутизатора: цель не планируется, пока маршрутизатор
// не запишет результат.
type Graph struct {
	// Nodes — все узлы графа (stepID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// BuildGraph строит граф из списка шагов верхнего уровня.
func BuildGraph(steps []domain.Step) (*Graph, error) {
	g := &Graph{
		Nodes:     make(map[string]*Node),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	for i := range steps {
		step := &steps[i]
		if _, exists := g.Nodes[step.ID]; exists {
			return nil, NewConfigurationError(step.ID, "id",
				fmt.Sprintf("duplicate step id: %s", step.ID), ErrDuplicateStepID)
		}
		g.Nodes[step.ID] = &Node{
			Step:       step,
			ID:         step.ID,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
	}

	// Второй проход: явные зависимости
	for i := range steps {
		step := &steps[i]
		node := g.Nodes[step.ID]
		for _, depID := range step.DependsOn {
			if depID == step.ID {
				return nil, NewConfigurationError(step.ID, "depends_on",
					"step depends on itself", ErrSelfDependency)
			}
			depNode, exists := g.Nodes[depID]
			if !exists {
				return nil, NewConfigurationError(step.ID, "depends_on",
					fmt.Sprintf("depends on unknown step: %s", depID), ErrMissingDependency)
			}
			g.addEdge(depNode, node)
		}
	}

	// Третий проход: неявные рёбра маршрутизатор → цель ветвления
	for i := range steps {
		step := &steps[i]
		if !step.IsRouting() {
			continue
		}
		node := g.Nodes[step.ID]
		for _, targetID := range step.BranchTargets() {
			targetNode, exists := g.Nodes[targetID]
			if !exists {
				return nil, NewConfigurationError(step.ID, "branches",
					fmt.Sprintf("branch target is not a top-level step: %s", targetID), ErrUnknownBranchTarget)
			}
			g.addEdge(node, targetNode)
		}
	}

	g.findRootNodes()

	// Проверяем на циклы и строим топологический порядок
	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// addEdge добавляет ребро между узлами.
// Дубликаты пропускаются, чтобы не задваивать InDegree
// (цель ветвления может одновременно стоять в depends_on).
func (g *Graph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (g *Graph) findRootNodes() {
	g.RootNodes = make([]*Node, 0)
	for _, node := range g.Nodes {
		if node.InDegree == 0 {
			g.RootNodes = append(g.RootNodes, node)
		}
	}
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int)
	for id, node := range g.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(g.RootNodes))
	copy(queue, g.RootNodes)

	order := make([]*Node, 0, len(g.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// GetReadyNodes возвращает узлы, готовые к планированию.
//
// Узел готов, если:
//   - каждая его зависимость записала результат (recorded);
//   - сам узел не завершён (done) и не выполняется (running).
//
// Пропущенные шаги результат не записывают, поэтому их зависимые
// узлы никогда не становятся готовыми: оркестратор каскадно
// помечает их пропущенными сам.
func (g *Graph) GetReadyNodes(recorded, done, running map[string]bool) []*Node {
	ready := make([]*Node, 0)

	for _, node := range g.Order {
		if done[node.ID] || running[node.ID] {
			continue
		}

		allRecorded := true
		for _, dep := range node.DependsOn {
			if !recorded[dep.ID] {
				allRecorded = false
				break
			}
		}

		if allRecorded {
			ready = append(ready, node)
		}
	}

	return ready
}

// GetNode возвращает узел по ID.
func (g *Graph) GetNode(id string) *Node {
	return g.Nodes[id]
}

// Size возвращает количество узлов в графе.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// IsComplete проверяет, все ли узлы завершены.
func (g *Graph) IsComplete(done map[string]bool) bool {
	for _, node := range g.Nodes {
		if !done[node.ID] {
			return false
		}
	}
	return true
}
