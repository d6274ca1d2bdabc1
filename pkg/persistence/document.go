// Package persistence implements the YAML on-disk format for graphs (C10):
// load/save against pkg/flowgraph.Graph, a versioned document schema, and
// migration hooks for upgrading older documents at load time. The document
// shape and loader-tolerance rules (unknown settings keys survive, unknown
// kinds fail the load, version mismatches run a migration hook) follow
// internal/application/importer/yaml_importer.go's YAMLWorkflow/YAMLNode
// conversion style, retargeted from the teacher's workflow/trigger domain
// onto flowgraph's node/edge DAG.
package persistence

import (
	"fmt"

	"github.com/flowkit/fctl/pkg/flowgraph"
)

// CurrentVersion is the document schema version this package writes.
const CurrentVersion = "2.0"

// Document is the on-disk representation of a Graph, as described in
// spec.md §4.10.
type Document struct {
	Version      string            `yaml:"version"`
	FlowID       string            `yaml:"flow_id"`
	FlowName     string            `yaml:"flow_name"`
	FlowSettings DocumentSettings  `yaml:"flow_settings"`
	Nodes        []DocumentNode    `yaml:"nodes"`
	Edges        []DocumentEdge    `yaml:"edges"`
}

// DocumentSettings mirrors flowgraph.FlowSettings' persisted subset.
// ModifiedOn is deliberately excluded: it is recomputed by the Graph Store
// on every mutation, not a portable part of the document.
type DocumentSettings struct {
	ExecutionMode     string `yaml:"execution_mode"`
	ExecutionLocation string `yaml:"execution_location"`
	AutoSave          bool   `yaml:"auto_save"`
	Path              string `yaml:"path,omitempty"`
	Description       string `yaml:"description,omitempty"`
}

// DocumentNode is one node entry in the document.
type DocumentNode struct {
	ID                int                          `yaml:"id"`
	Type              string                       `yaml:"type"`
	Position          flowgraph.Position           `yaml:"position"`
	CacheResults      bool                         `yaml:"cache_results"`
	Description       string                       `yaml:"description,omitempty"`
	OutputFieldConfig *flowgraph.OutputFieldConfig `yaml:"output_field_config,omitempty"`
	Settings          map[string]interface{}       `yaml:"settings"`
}

// DocumentEdge is one edge entry in the document.
type DocumentEdge struct {
	Source     int    `yaml:"source"`
	SourcePort string `yaml:"source_port,omitempty"`
	Target     int    `yaml:"target"`
	TargetPort string `yaml:"target_port"`
}

// fromGraph snapshots a Graph into its document form.
func fromGraph(g *flowgraph.Graph) *Document {
	nodes := g.ListNodes()
	edges := g.ListEdges()

	doc := &Document{
		Version:  CurrentVersion,
		FlowID:   g.ID,
		FlowName: g.Name,
		FlowSettings: DocumentSettings{
			ExecutionMode:     string(g.Settings.ExecutionMode),
			ExecutionLocation: string(g.Settings.ExecutionLocation),
			AutoSave:          g.Settings.AutoSave,
			Path:              g.Settings.Path,
			Description:       g.Settings.Description,
		},
		Nodes: make([]DocumentNode, 0, len(nodes)),
		Edges: make([]DocumentEdge, 0, len(edges)),
	}
	for _, n := range nodes {
		doc.Nodes = append(doc.Nodes, DocumentNode{
			ID:                n.ID,
			Type:              n.Kind,
			Position:          n.Position,
			CacheResults:      n.CacheResults,
			Description:       n.Description,
			OutputFieldConfig: n.OutputFieldConfig,
			Settings:          n.Settings,
		})
	}
	for _, e := range edges {
		doc.Edges = append(doc.Edges, DocumentEdge{
			Source:     e.From,
			SourcePort: e.FromPort,
			Target:     e.To,
			TargetPort: e.ToPort,
		})
	}
	return doc
}

// toGraph builds a Graph from a Document, validating against arity via the
// supplied ArityLookup (typically a *catalog.Catalog) and rejecting unknown
// node kinds by consulting kindKnown.
func toGraph(doc *Document, arity flowgraph.ArityLookup, kindKnown func(kind string) bool) (*flowgraph.Graph, error) {
	g := flowgraph.New(doc.FlowID, doc.FlowName, arity)
	g.Settings = flowgraph.FlowSettings{
		ExecutionMode:     flowgraph.ExecutionMode(doc.FlowSettings.ExecutionMode),
		ExecutionLocation: flowgraph.ExecutionLocation(doc.FlowSettings.ExecutionLocation),
		AutoSave:          doc.FlowSettings.AutoSave,
		Path:              doc.FlowSettings.Path,
		Description:       doc.FlowSettings.Description,
	}

	for i, n := range doc.Nodes {
		if kindKnown != nil && !kindKnown(n.Type) {
			return nil, fmt.Errorf("nodes[%d] (id=%d): unknown node kind %q", i, n.ID, n.Type)
		}
		node := &flowgraph.Node{
			ID:                n.ID,
			Kind:              n.Type,
			Settings:          n.Settings,
			Position:          n.Position,
			CacheResults:      n.CacheResults,
			Description:       n.Description,
			OutputFieldConfig: n.OutputFieldConfig,
		}
		if err := g.AddNode(node); err != nil {
			return nil, fmt.Errorf("nodes[%d] (id=%d): %w", i, n.ID, err)
		}
	}
	for i, e := range doc.Edges {
		edge := &flowgraph.Edge{
			From:     e.Source,
			FromPort: e.SourcePort,
			To:       e.Target,
			ToPort:   e.TargetPort,
		}
		if err := g.AddEdge(edge); err != nil {
			return nil, fmt.Errorf("edges[%d]: %w", i, err)
		}
	}
	return g, nil
}
