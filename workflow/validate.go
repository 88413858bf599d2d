package workflow

import (
	"github.com/BaSui01/taskmesh/types"
)

// Validate checks a workflow spec for structural soundness: non-empty node
// list, a known mode, unique node ids, resolvable dependencies and an
// acyclic graph. Sequential specs must additionally declare every node
// after the nodes it depends on.
func Validate(spec *types.WorkflowSpec) error {
	if spec == nil {
		return types.NewValidationError("workflow spec is nil")
	}
	if spec.Name == "" {
		return types.NewValidationError("workflow name is empty")
	}
	if !spec.Mode.Valid() {
		return types.NewValidationError("unknown coordination mode: " + string(spec.Mode))
	}
	if len(spec.Nodes) == 0 {
		return types.NewValidationError("workflow has no nodes")
	}

	declared := make(map[string]int, len(spec.Nodes))
	for i, node := range spec.Nodes {
		if node.ID == "" {
			return types.NewValidationError("workflow node has an empty id")
		}
		if _, ok := declared[node.ID]; ok {
			return types.NewValidationError("duplicate workflow node id: " + node.ID)
		}
		declared[node.ID] = i
	}

	for i, node := range spec.Nodes {
		task := node.Task
		if task.Description == "" {
			return types.NewValidationError("node " + node.ID + ": task description is empty")
		}
		if !task.Role.Valid() {
			return types.NewValidationError("node " + node.ID + ": unknown task role: " + string(task.Role))
		}

		for _, dep := range node.DependsOn {
			depIdx, ok := declared[dep]
			if !ok {
				return types.NewError(types.ErrUnknownDependency, "node "+node.ID+" depends on undeclared node").
					WithTarget(dep)
			}
			if dep == node.ID {
				return types.NewError(types.ErrCyclicDependency, "node depends on itself").
					WithTarget(node.ID)
			}
			if spec.Mode == types.ModeSequential && depIdx > i {
				return types.NewValidationError("sequential node " + node.ID + " depends on later-declared node " + dep)
			}
		}
	}

	if cycle := findCycle(spec.Nodes); cycle != "" {
		return types.NewError(types.ErrCyclicDependency, "workflow dependency graph has a cycle").
			WithTarget(cycle)
	}

	return nil
}

// findCycle runs Kahn's algorithm over the dependency graph and returns a
// node id on a cycle, or "" when the graph is acyclic.
func findCycle(nodes []types.NodeSpec) string {
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, node := range nodes {
		indegree[node.ID] += 0
		for _, dep := range node.DependsOn {
			indegree[node.ID]++
			dependents[dep] = append(dependents[dep], node.ID)
		}
	}

	queue := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if indegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited == len(nodes) {
		return ""
	}
	for _, node := range nodes {
		if indegree[node.ID] > 0 {
			return node.ID
		}
	}
	return ""
}

// topoOrder returns the node indices in topological order, stable by
// declaration order among ready nodes. The spec must already be validated.
func topoOrder(nodes []types.NodeSpec) []int {
	indegree := make(map[string]int, len(nodes))
	index := make(map[string]int, len(nodes))
	for i, node := range nodes {
		index[node.ID] = i
		indegree[node.ID] = len(node.DependsOn)
	}

	order := make([]int, 0, len(nodes))
	emitted := make(map[string]bool, len(nodes))

	for len(order) < len(nodes) {
		progressed := false
		for _, node := range nodes {
			if emitted[node.ID] || indegree[node.ID] > 0 {
				continue
			}
			emitted[node.ID] = true
			order = append(order, index[node.ID])
			for _, other := range nodes {
				for _, dep := range other.DependsOn {
					if dep == node.ID {
						indegree[other.ID]--
					}
				}
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return order
}
