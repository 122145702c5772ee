package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/stitchhq/canvas-engine/common/errs"
	"github.com/stitchhq/canvas-engine/common/models"
)

// Compile converts a visual graph into its execution form: a node index,
// adjacency lists in authored edge order, per-edge attributes keyed by
// "source→target", and precomputed entry and terminal node lists. The
// result is persisted once per version and read by every run without
// re-parsing.
//
// On validation failure it returns a KindValidation error carrying the
// ordered finding list; nothing is compiled.
func Compile(vg *models.VisualGraph) (*models.ExecutionGraph, error) {
	if findings := Validate(vg); len(findings) > 0 {
		return nil, errs.Validation("graph validation failed", findings)
	}

	eg := &models.ExecutionGraph{
		Nodes:     make(map[string]models.ExecNode, len(vg.Nodes)),
		Adjacency: make(map[string][]string),
		EdgeData:  make(map[string]models.EdgeData),
		Incoming:  make(map[string][]string),
	}

	// 1. Node index.
	for _, n := range vg.Nodes {
		eg.Nodes[n.ID] = models.ExecNode{ID: n.ID, Type: n.Type, Data: n.Data}
	}

	// 2. Adjacency and edge attributes. Authored order is preserved: it is
	// the deterministic tie-break for fan-in checks and collector merges.
	// Parallel edges over the same source→target pair collapse to the first
	// authored one.
	targeted := make(map[string]bool)
	for _, e := range vg.Edges {
		key := models.EdgeKey(e.Source, e.Target)
		if _, dup := eg.EdgeData[key]; dup {
			continue
		}
		edgeType := e.Type
		if edgeType == "" {
			edgeType = models.EdgeTypeJourney
		}
		eg.Adjacency[e.Source] = append(eg.Adjacency[e.Source], e.Target)
		eg.EdgeData[key] = models.EdgeData{
			ID:        e.ID,
			Type:      edgeType,
			Predicate: e.Predicate,
			Label:     e.Label,
		}
		if !eg.Nodes[e.Source].Type.Structural() {
			targeted[e.Target] = true
		}
		if edgeType.Journey() {
			eg.Incoming[e.Target] = append(eg.Incoming[e.Target], e.Source)
		}
	}

	// 3. Entry and terminal nodes, authored node order. An entry has no
	// inbound edge from a firing source: a system-edge target fires when
	// its source completes, not at run start, while an edge out of a
	// structural node is a taxonomy link and gates nothing. Terminals are
	// computed over the journey subgraph only. Structural nodes carry
	// canvas taxonomy, join neither list, and never leave pending.
	for _, n := range vg.Nodes {
		if n.Type.Structural() {
			continue
		}
		if !targeted[n.ID] {
			eg.EntryNodes = append(eg.EntryNodes, n.ID)
		}
		if !hasJourneyOut(eg, n.ID) {
			eg.TerminalNodes = append(eg.TerminalNodes, n.ID)
		}
	}

	return eg, nil
}

func hasJourneyOut(eg *models.ExecutionGraph, id string) bool {
	for _, target := range eg.Adjacency[id] {
		if ed, ok := eg.Edge(id, target); ok && ed.Type.Journey() {
			return true
		}
	}
	return false
}

// Decompile reconstructs a visual graph from its execution form. Canvas
// positions and styles are not part of the execution form and come back
// zero-valued; the (source, target, type) edge set and node payloads are
// preserved. Output order is sorted for determinism.
func Decompile(eg *models.ExecutionGraph) *models.VisualGraph {
	vg := &models.VisualGraph{}

	ids := make([]string, 0, len(eg.Nodes))
	for id := range eg.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := eg.Nodes[id]
		vg.Nodes = append(vg.Nodes, models.VisualNode{ID: n.ID, Type: n.Type, Data: n.Data})
	}

	keys := make([]string, 0, len(eg.EdgeData))
	for key := range eg.EdgeData {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		ed := eg.EdgeData[key]
		source, target, ok := strings.Cut(key, models.EdgeKeySeparator)
		if !ok {
			continue
		}
		vg.Edges = append(vg.Edges, models.VisualEdge{
			ID:        ed.ID,
			Source:    source,
			Target:    target,
			Type:      ed.Type,
			Predicate: ed.Predicate,
			Label:     ed.Label,
		})
	}

	return vg
}

// ContentHash returns a stable digest of a visual graph. Versions created
// implicitly at run time reuse an existing version when the hash matches.
func ContentHash(vg *models.VisualGraph) (string, error) {
	b, err := json.Marshal(vg)
	if err != nil {
		return "", fmt.Errorf("marshal visual graph: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
