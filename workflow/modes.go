package workflow

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/taskmesh/types"
)

// runSequential executes nodes one at a time in declaration order. A node
// failure without ContinueOnFailure aborts the rest of the run.
func (e *Engine) runSequential(ctx context.Context, spec *types.WorkflowSpec, result *types.WorkflowResult) {
	aborted := false

	for _, node := range spec.Nodes {
		if ctx.Err() != nil {
			result.Nodes[node.ID] = types.NodeResult{NodeID: node.ID, State: types.NodeCancelled, Err: ctx.Err()}
			continue
		}
		if aborted {
			result.Nodes[node.ID] = skippedNode(node.ID, "upstream failure aborted the run")
			continue
		}
		if reason := skipReason(node, result.Nodes); reason != "" {
			result.Nodes[node.ID] = skippedNode(node.ID, reason)
			e.logger.Info("node skipped", zap.String("node_id", node.ID), zap.String("reason", reason))
			continue
		}

		nodeResult := e.runNode(ctx, result.RunID, node, depResults(node, result.Nodes))
		result.Nodes[node.ID] = nodeResult

		if nodeResult.State == types.NodeFailed && !node.ContinueOnFailure {
			aborted = true
		}
	}
}

// runParallel dispatches every dependency-satisfied node concurrently,
// bounded by MaxConcurrency. Node results are recorded only by this
// scheduler goroutine; workers report over a channel.
func (e *Engine) runParallel(ctx context.Context, spec *types.WorkflowSpec, result *types.WorkflowResult) {
	sem := semaphore.NewWeighted(int64(e.config.MaxConcurrency))
	completed := make(chan types.NodeResult)

	pending := make(map[string]types.NodeSpec, len(spec.Nodes))
	for _, node := range spec.Nodes {
		pending[node.ID] = node
	}
	running := 0

	for len(pending) > 0 || running > 0 {
		// Resolve everything decidable without dispatching, repeating
		// until skips and cancellations stop cascading.
		for progressed := true; progressed; {
			progressed = false
			for _, node := range spec.Nodes {
				n, ok := pending[node.ID]
				if !ok {
					continue
				}
				if ctx.Err() != nil {
					result.Nodes[n.ID] = types.NodeResult{NodeID: n.ID, State: types.NodeCancelled, Err: ctx.Err()}
					delete(pending, n.ID)
					progressed = true
					continue
				}
				if !depsTerminal(n, result.Nodes) {
					continue
				}
				if reason := skipReason(n, result.Nodes); reason != "" {
					result.Nodes[n.ID] = skippedNode(n.ID, reason)
					e.logger.Info("node skipped", zap.String("node_id", n.ID), zap.String("reason", reason))
					delete(pending, n.ID)
					progressed = true
					continue
				}

				delete(pending, n.ID)
				running++
				progressed = true

				node := n
				deps := depResults(node, result.Nodes)
				go func() {
					if err := sem.Acquire(ctx, 1); err != nil {
						completed <- types.NodeResult{NodeID: node.ID, State: types.NodeCancelled, Err: err}
						return
					}
					defer sem.Release(1)
					completed <- e.runNode(ctx, result.RunID, node, deps)
				}()
			}
		}

		if running == 0 {
			// Unreachable pending nodes are resolved by finalize.
			return
		}

		nodeResult := <-completed
		running--
		result.Nodes[nodeResult.NodeID] = nodeResult
	}
}

// runConditional walks the graph in topological order, evaluating each
// node's predicate over its dependencies' results before dispatching. A
// false predicate skips the node; a predicate error fails it. Unlike
// sequential mode, a failure only affects the failed node's dependents.
func (e *Engine) runConditional(ctx context.Context, spec *types.WorkflowSpec, result *types.WorkflowResult) {
	for _, idx := range topoOrder(spec.Nodes) {
		node := spec.Nodes[idx]

		if ctx.Err() != nil {
			result.Nodes[node.ID] = types.NodeResult{NodeID: node.ID, State: types.NodeCancelled, Err: ctx.Err()}
			continue
		}
		if reason := skipReason(node, result.Nodes); reason != "" {
			result.Nodes[node.ID] = skippedNode(node.ID, reason)
			e.logger.Info("node skipped", zap.String("node_id", node.ID), zap.String("reason", reason))
			continue
		}

		if node.Condition != nil {
			deps := depResults(node, result.Nodes)
			ok, err := node.Condition(deps)
			if err != nil {
				result.Nodes[node.ID] = types.NodeResult{NodeID: node.ID, State: types.NodeFailed, Err: err}
				e.logger.Warn("node condition errored", zap.String("node_id", node.ID), zap.Error(err))
				continue
			}
			if !ok {
				result.Nodes[node.ID] = skippedNode(node.ID, "condition evaluated to false")
				e.logger.Info("node skipped", zap.String("node_id", node.ID), zap.String("reason", "condition false"))
				continue
			}
		}

		result.Nodes[node.ID] = e.runNode(ctx, result.RunID, node, depResults(node, result.Nodes))
	}
}
