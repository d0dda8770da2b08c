// Package workflow implements the graph execution core of an LLM
// application platform.
//
// A workflow is a directed graph of typed nodes (LLM calls, HTTP requests,
// branching, iteration, answer assembly, ...). The Engine walks the graph
// from its root node, evaluates edge run-conditions against a shared
// variable pool, dispatches parallel sub-graphs onto a bounded worker
// pool, applies per-node retry and error strategies, and produces a
// strictly ordered stream of lifecycle events.
//
// The main pieces:
//
//   - Graph: immutable topology built from a GraphConfig document,
//     including statically derived parallel regions.
//   - VariablePool: hierarchical (node id, key path) -> value store with
//     reserved sys/env/conv namespaces.
//   - Engine: the driver. Run returns a lazy event channel; the caller
//     consumes it to completion, stops early, or cancels the context.
//   - WorkerPool: fixed-size pool with a hard submit cap shared between an
//     engine and its child engines.
//   - ResponsePipeline: consumes engine events and yields the externally
//     visible response, streamed or collected.
//
// Node behavior lives behind the Node interface; built-in implementations
// are in the nodes subpackage and are resolved through a Registry keyed by
// (node type, version).
package workflow
