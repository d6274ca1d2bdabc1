package scheduler

import (
	"fmt"
	"sync"

	"github.com/flowkit/fctl/pkg/fingerprint"
	"github.com/flowkit/fctl/pkg/flowgraph"
)

// SourceMetadataLookup resolves the external-input identity of a source
// node (one with no predecessors), so its fingerprint reflects the file it
// actually read rather than only its settings. Nodes with predecessors
// never consult this.
type SourceMetadataLookup interface {
	SourceMetadata(nodeID int) (*fingerprint.SourceMetadata, bool)
}

// FingerprintTracker maintains node_id -> fingerprint, memoized and
// invalidated the same way pkg/schema.Propagator memoizes schemas: a
// node's entry is evicted whenever the graph notifies it (or a descendant)
// has changed. It implements pkg/plan.FingerprintOf.
type FingerprintTracker struct {
	mu      sync.Mutex
	graph   *flowgraph.Graph
	sources SourceMetadataLookup
	memo    map[int]string
}

// NewFingerprintTracker constructs a tracker over graph. sources may be nil
// if no node reads external, independently-versioned input.
func NewFingerprintTracker(graph *flowgraph.Graph, sources SourceMetadataLookup) *FingerprintTracker {
	t := &FingerprintTracker{graph: graph, sources: sources, memo: make(map[int]string)}
	graph.Subscribe(t.invalidate)
	return t
}

func (t *FingerprintTracker) invalidate(nodeIDs []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range nodeIDs {
		delete(t.memo, id)
	}
}

// FingerprintOf returns node_id's fingerprint, recursing into predecessors
// (in the same SortedPredecessors order the Plan Builder and Schema
// Propagator use) as needed.
func (t *FingerprintTracker) FingerprintOf(nodeID int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fingerprintOfLocked(nodeID)
}

func (t *FingerprintTracker) fingerprintOfLocked(nodeID int) (string, error) {
	if fp, ok := t.memo[nodeID]; ok {
		return fp, nil
	}

	node, err := t.graph.GetNode(nodeID)
	if err != nil {
		return "", err
	}

	predecessors := t.graph.SortedPredecessors(nodeID)
	predFingerprints := make([]string, 0, len(predecessors))
	for _, from := range predecessors {
		pfp, err := t.fingerprintOfLocked(from)
		if err != nil {
			return "", fmt.Errorf("fingerprint predecessor %d of node %d: %w", from, nodeID, err)
		}
		predFingerprints = append(predFingerprints, pfp)
	}

	var source *fingerprint.SourceMetadata
	if len(predecessors) == 0 && t.sources != nil {
		if sm, ok := t.sources.SourceMetadata(nodeID); ok {
			source = sm
		}
	}

	fp := fingerprint.Of(node.Kind, node.Settings, predFingerprints, source)
	t.memo[nodeID] = fp
	return fp, nil
}
