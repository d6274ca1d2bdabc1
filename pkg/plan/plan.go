// Package plan implements the Plan Builder (C5): composing a lazy query
// plan per node by feeding predecessors' lazy plans into the node kind's
// builder, substituting a cache-scan node for any ancestor with a valid
// cache entry. LazyPlan is deliberately opaque here — plan.go never
// inspects its contents, matching the worker-protocol framing that only the
// worker's dataframe runtime understands plan_blob (spec §4.8).
//
// This package is a leaf: it depends on kind lookup and cache lookup only
// through small interfaces, so pkg/catalog can depend on plan.LazyPlan
// without creating an import cycle.
package plan

import (
	"encoding/json"
	"fmt"

	"github.com/flowkit/fctl/pkg/flowgraph"
	"github.com/flowkit/fctl/pkg/types"
)

// LazyPlan is an opaque, versioned representation of a deferred query. The
// coordinator carries it between components without interpreting it; only
// the worker's dataframe runtime understands the Blob contents.
type LazyPlan interface {
	// Blob returns the opaque, worker-understood serialization.
	Blob() []byte
	// Schema is the plan's predicted output schema, carried alongside the
	// opaque blob so the coordinator can answer schema queries without
	// asking the worker to interpret Blob.
	Schema() types.Schema
}

// RuntimeContext carries per-run, node-independent parameters into a kind's
// PlanBuilder (execution mode, run id, node id being built).
type RuntimeContext struct {
	RunID         string
	NodeID        int
	ExecutionMode flowgraph.ExecutionMode

	// Pins receives the fingerprint of every ancestor cache entry PlanOf
	// substitutes into this run's plan, so the caller can release the pin
	// once it is done executing the plan that reads it. May be nil (no
	// pinning reported).
	Pins PinTracker
}

// PinTracker receives cache fingerprints the Plan Builder pinned on behalf
// of a run, satisfied by pkg/scheduler.Run.
type PinTracker interface {
	Pin(fingerprint string)
}

// CachePinner optionally extends CacheLookup: when the Builder's Cache
// implements it, a cache-scan substitution pins the entry for the life of
// the run reading it (spec §4.6/§5: "in-use entries ... are pinned until
// the run completes"). Satisfied by pkg/cache.Cache; test doubles may omit
// it and simply forgo pinning.
type CachePinner interface {
	Acquire(fingerprint string)
}

// opaquePlan is the concrete LazyPlan used by build_plan implementations
// that do not need a richer representation: a JSON envelope carrying a
// kind tag, settings, and nested operand blobs. The worker, not the
// coordinator, gives this meaning.
type opaquePlan struct {
	schema types.Schema
	blob   []byte
}

func (p *opaquePlan) Blob() []byte        { return p.blob }
func (p *opaquePlan) Schema() types.Schema { return p.schema }

// envelope is the wire shape of an opaquePlan's blob.
type envelope struct {
	Op       string                 `json:"op"`
	Settings map[string]interface{} `json:"settings"`
	Inputs   []json.RawMessage      `json:"inputs"`
}

// NewOpaquePlan builds a LazyPlan from a kind ID, settings, and the raw
// blobs of its input plans (in predecessor order). Used by node-kind plan
// builders in pkg/catalog/builtins.
func NewOpaquePlan(kindID string, settings map[string]interface{}, schema types.Schema, inputs []LazyPlan) (LazyPlan, error) {
	raws := make([]json.RawMessage, len(inputs))
	for i, in := range inputs {
		raws[i] = json.RawMessage(in.Blob())
	}
	env := envelope{Op: kindID, Settings: settings, Inputs: raws}
	blob, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode plan envelope: %w", err)
	}
	return &opaquePlan{schema: schema, blob: blob}, nil
}

// CacheRef is the minimal information the Plan Builder needs from the Cache
// to substitute a scan-from-cache node for an ancestor subtree.
type CacheRef struct {
	Fingerprint    string
	Schema         types.Schema
	PayloadLocation string
}

// CacheLookup resolves a fingerprint to a CacheRef, satisfied by pkg/cache's
// Cache type.
type CacheLookup interface {
	Lookup(fingerprint string) (CacheRef, bool)
}

// KindPlanBuilder builds a single node's plan from its settings and its
// predecessors' plans, satisfied by pkg/catalog's Catalog type.
type KindPlanBuilder interface {
	BuildPlan(kindID string, settings map[string]interface{}, inputPlans []LazyPlan, rctx RuntimeContext) (LazyPlan, error)
}

// FingerprintOf resolves a node's current fingerprint, satisfied by
// pkg/scheduler's fingerprint cache.
type FingerprintOf interface {
	FingerprintOf(nodeID int) (string, error)
}

func scanFromCacheSchemaOnly(ref CacheRef) LazyPlan {
	env := envelope{Op: "scan_from_cache", Settings: map[string]interface{}{
		"fingerprint":      ref.Fingerprint,
		"payload_location": ref.PayloadLocation,
	}}
	blob, _ := json.Marshal(env)
	return &opaquePlan{schema: ref.Schema, blob: blob}
}

// Builder recursively composes LazyPlans for a graph's nodes.
type Builder struct {
	Graph       *flowgraph.Graph
	Kinds       KindPlanBuilder
	Cache       CacheLookup
	Fingerprint FingerprintOf

	memo map[int]LazyPlan
}

// NewBuilder constructs a Builder. Cache may be nil to disable cache-scan
// substitution (e.g. in tests).
func NewBuilder(graph *flowgraph.Graph, kinds KindPlanBuilder, cache CacheLookup, fp FingerprintOf) *Builder {
	return &Builder{Graph: graph, Kinds: kinds, Cache: cache, Fingerprint: fp, memo: make(map[int]LazyPlan)}
}

// PlanOf walks predecessors, recursively building their plans, then invokes
// the node kind's build_plan. If the node has a valid cache entry for its
// current fingerprint, a scan-from-cache plan is substituted instead of
// recursing into its predecessors, pruning redundant recomputation.
func (b *Builder) PlanOf(nodeID int, rctx RuntimeContext) (LazyPlan, error) {
	// Checked ahead of the memo on every call (not just the first): a cache
	// entry can appear after a node was last built structurally, and each
	// run reading a substituted ancestor must re-acquire its own pin rather
	// than relying on a pin taken by some earlier run.
	if b.Cache != nil && b.Fingerprint != nil {
		if fp, err := b.Fingerprint.FingerprintOf(nodeID); err == nil {
			if ref, hit := b.Cache.Lookup(fp); hit {
				if pinner, ok := b.Cache.(CachePinner); ok {
					pinner.Acquire(fp)
				}
				if rctx.Pins != nil {
					rctx.Pins.Pin(fp)
				}
				lp := scanFromCacheSchemaOnly(ref)
				b.memo[nodeID] = lp
				return lp, nil
			}
		}
	}

	if cached, ok := b.memo[nodeID]; ok {
		return cached, nil
	}

	node, err := b.Graph.GetNode(nodeID)
	if err != nil {
		return nil, err
	}

	predecessors := b.Graph.SortedPredecessors(nodeID)
	inputPlans := make([]LazyPlan, 0, len(predecessors))
	for _, from := range predecessors {
		childRctx := rctx
		childRctx.NodeID = from
		childPlan, err := b.PlanOf(from, childRctx)
		if err != nil {
			return nil, fmt.Errorf("build plan for predecessor %d of node %d: %w", from, nodeID, err)
		}
		inputPlans = append(inputPlans, childPlan)
	}

	rctx.NodeID = nodeID
	lp, err := b.Kinds.BuildPlan(node.Kind, node.Settings, inputPlans, rctx)
	if err != nil {
		return nil, fmt.Errorf("build plan for node %d: %w", nodeID, err)
	}
	b.memo[nodeID] = lp
	return lp, nil
}

// Reset clears the memoization cache; call when the graph mutates.
func (b *Builder) Reset() {
	b.memo = make(map[int]LazyPlan)
}
