package graph

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/observability"
)

// Config contains the graph update parameters.
type Config struct {
	// InitialEdgeWeight is the weight of a newly observed edge. Default: 0.7
	InitialEdgeWeight float64 `json:"initial_edge_weight" yaml:"initial_edge_weight" validate:"gte=0,lte=1"`

	// InitialConfidence is the confidence of a newly observed edge. Default: 0.8
	InitialConfidence float64 `json:"initial_confidence" yaml:"initial_confidence" validate:"gte=0,lte=1"`

	// EdgeIncrement is added to the weight of an edge observed again. Default: 0.1
	EdgeIncrement float64 `json:"edge_increment" yaml:"edge_increment" validate:"gte=0,lte=1"`

	// HalfLifeDays is the time constant of edge decay: w *= exp(-Δdays / HalfLifeDays). Default: 30
	HalfLifeDays float64 `json:"half_life_days" yaml:"half_life_days" validate:"gte=0"`

	// PruneThreshold removes edges whose weight decays below it. Default: 0.1
	PruneThreshold float64 `json:"prune_threshold" yaml:"prune_threshold" validate:"gte=0,lte=1"`

	// DefaultImportance is the importance of nodes added without one. Default: 0.5
	DefaultImportance float64 `json:"default_importance" yaml:"default_importance" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the default graph configuration.
func DefaultConfig() Config {
	return Config{
		InitialEdgeWeight: 0.7,
		InitialConfidence: 0.8,
		EdgeIncrement:     0.1,
		HalfLifeDays:      30,
		PruneThreshold:    0.1,
		DefaultImportance: 0.5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitialEdgeWeight == 0 {
		c.InitialEdgeWeight = def.InitialEdgeWeight
	}
	if c.InitialConfidence == 0 {
		c.InitialConfidence = def.InitialConfidence
	}
	if c.EdgeIncrement == 0 {
		c.EdgeIncrement = def.EdgeIncrement
	}
	if c.HalfLifeDays == 0 {
		c.HalfLifeDays = def.HalfLifeDays
	}
	if c.PruneThreshold == 0 {
		c.PruneThreshold = def.PruneThreshold
	}
	if c.DefaultImportance == 0 {
		c.DefaultImportance = def.DefaultImportance
	}
	return c
}

// Operator derives the next graph from the current one:
//
//	G(t+1) = T(G(t), observation, action)
//
// Apply never modifies its input snapshot.
type Operator struct {
	cfg    Config
	logger *zap.Logger
}

// NewOperator creates an operator. Zero config fields take their defaults.
func NewOperator(cfg Config, logger *zap.Logger) *Operator {
	return &Operator{cfg: cfg.withDefaults(), logger: observability.OrNop(logger)}
}

// Config returns the effective configuration.
func (o *Operator) Config() Config {
	return o.cfg
}

// Apply returns the graph after action and what changed.
//
// Actions referring to missing nodes or edges change nothing. An AddEdge
// whose endpoints do not exist is rejected and reported in Delta.Violations.
func (o *Operator) Apply(g *Snapshot, obs Observation, action Action) (*Snapshot, *Delta) {
	return o.ApplyAll(g, obs, action)
}

// ApplyAll applies actions in order and returns the final graph and the combined delta.
func (o *Operator) ApplyAll(g *Snapshot, obs Observation, actions ...Action) (*Snapshot, *Delta) {
	if obs.At.IsZero() {
		obs.At = time.Now()
	}
	b := newBuilder(g)
	delta := &Delta{}
	for _, action := range actions {
		d := o.apply(b, obs, action)
		delta.merge(d)
	}
	for _, v := range delta.Violations {
		o.logger.Warn("graph consistency violation", zap.Error(v))
	}
	if delta.Empty() {
		return g, delta
	}
	return b.build(obs.At), delta
}

func (o *Operator) apply(b *builder, obs Observation, action Action) *Delta {
	switch action.Type {
	case ActionAddNode:
		return o.addNode(b, obs, action)
	case ActionAddEdge:
		return o.addEdge(b, obs, action)
	case ActionUpdateEdgeWeight:
		return o.updateEdgeWeight(b, obs, action)
	case ActionMergeNodes:
		return o.mergeNodes(b, obs, action)
	case ActionPruneNode:
		return o.pruneNode(b, action.NodeID)
	case ActionPruneEdge:
		return o.pruneEdge(b, action.EdgeID)
	default:
		o.logger.Warn("unknown graph action", zap.String("type", string(action.Type)))
		return &Delta{}
	}
}

func (o *Operator) addNode(b *builder, obs Observation, action Action) *Delta {
	if action.Node == nil || labelKey(action.Node.Label) == "" {
		return &Delta{}
	}
	in := action.Node.Clone()

	id := in.ID
	if id == "" {
		if existing, ok := b.labels[labelKey(in.Label)]; ok {
			id = existing
		} else {
			id = NodeID(in.Label)
		}
	}

	if n, ok := b.nodes[id]; ok {
		n = n.Clone()
		n.Importance = math.Max(n.Importance, in.Importance)
		n.MemoryIDs = model.NormalizeSet(append(append(n.MemoryIDs, in.MemoryIDs...), obs.MemoryID))
		if n.Type == "" {
			n.Type = in.Type
		}
		for k, v := range in.Properties {
			if n.Properties == nil {
				n.Properties = make(map[string]interface{})
			}
			n.Properties[k] = v
		}
		n.UpdatedAt = obs.At
		b.putNode(n)
		return &Delta{UpdatedNodes: []string{id}}
	}

	in.ID = id
	in.Label = strings.TrimSpace(in.Label)
	if in.Importance <= 0 {
		in.Importance = o.cfg.DefaultImportance
	}
	in.Importance = model.Clamp01(in.Importance)
	in.Centrality = 0
	in.MemoryIDs = model.NormalizeSet(append(in.MemoryIDs, obs.MemoryID))
	in.CreatedAt = obs.At
	in.UpdatedAt = obs.At
	b.putNode(in)
	return &Delta{AddedNodes: []string{id}}
}

func (o *Operator) addEdge(b *builder, obs Observation, action Action) *Delta {
	if action.Edge == nil || action.Edge.Relation == "" {
		return &Delta{}
	}
	in := *action.Edge
	if in.SourceID == "" {
		in.SourceID = b.labels[labelKey(action.SourceLabel)]
	}
	if in.TargetID == "" {
		in.TargetID = b.labels[labelKey(action.TargetLabel)]
	}

	var violations []error
	if _, ok := b.nodes[in.SourceID]; !ok {
		violations = append(violations, missingEndpoint(in, in.SourceID, action.SourceLabel))
	}
	if _, ok := b.nodes[in.TargetID]; !ok {
		violations = append(violations, missingEndpoint(in, in.TargetID, action.TargetLabel))
	}
	if len(violations) > 0 {
		return &Delta{Violations: violations}
	}
	if in.SourceID == in.TargetID {
		return &Delta{}
	}

	id := model.EdgeID(in.SourceID, in.Relation, in.TargetID)
	if e, ok := b.edges[id]; ok {
		o.settle(&e, obs.At)
		e.Weight = math.Min(1, e.Weight+o.cfg.EdgeIncrement)
		e.EvidenceCount++
		if in.Confidence > e.Confidence {
			e.Confidence = math.Min(1, in.Confidence)
		}
		b.putEdge(e)
		return &Delta{UpdatedEdges: []string{id}}
	}

	in.ID = id
	if in.Weight <= 0 {
		in.Weight = o.cfg.InitialEdgeWeight
	}
	if in.Confidence <= 0 {
		in.Confidence = o.cfg.InitialConfidence
	}
	in.Weight = model.Clamp01(in.Weight)
	in.Confidence = model.Clamp01(in.Confidence)
	in.EvidenceCount = 1
	in.CreatedAt = obs.At
	in.UpdatedAt = obs.At
	b.putEdge(in)
	return &Delta{AddedEdges: []string{id}}
}

// settle applies the decay an edge accrued between its last write and at,
// then moves its clock to at. Writes that restart the clock settle first so
// accrued decay is never dropped.
func (o *Operator) settle(e *model.GraphEdge, at time.Time) {
	days := at.Sub(e.UpdatedAt).Hours() / 24
	if days > 0 {
		e.Weight *= math.Exp(-days / o.cfg.HalfLifeDays)
	}
	if at.After(e.UpdatedAt) {
		e.UpdatedAt = at
	}
}

func missingEndpoint(e model.GraphEdge, id, label string) error {
	ref := id
	if ref == "" {
		ref = fmt.Sprintf("label %q", label)
	}
	return fmt.Errorf("edge %s -%s-> %s references missing node %s: %w",
		e.SourceID, e.Relation, e.TargetID, ref, model.ErrConsistencyViolation)
}

// updateEdgeWeight sets one edge weight, or decays edges by the time since
// their last update. Edges that end below PruneThreshold are removed in the
// same pass.
func (o *Operator) updateEdgeWeight(b *builder, obs Observation, action Action) *Delta {
	ids := []string{action.EdgeID}
	if action.EdgeID == "" {
		ids = b.edgeIDs()
	}

	delta := &Delta{}
	for _, id := range ids {
		e, ok := b.edges[id]
		if !ok {
			continue
		}

		before := e.Weight
		if action.Weight != nil {
			e.Weight = model.Clamp01(*action.Weight)
			e.UpdatedAt = obs.At
		} else {
			if !obs.At.After(e.UpdatedAt) {
				continue
			}
			o.settle(&e, obs.At)
		}

		if e.Weight < o.cfg.PruneThreshold {
			b.deleteEdge(id)
			delta.RemovedEdges = append(delta.RemovedEdges, id)
			continue
		}
		if e.Weight != before {
			b.putEdge(e)
			delta.UpdatedEdges = append(delta.UpdatedEdges, id)
		}
	}
	return delta
}

// mergeNodes folds OtherID into NodeID: importance is the max of both,
// memory ids and properties are united, and every edge of OtherID is
// redirected. Redirected edges colliding with an existing edge are summed,
// capped at 1.0. Edges that would become self-loops are dropped.
func (o *Operator) mergeNodes(b *builder, obs Observation, action Action) *Delta {
	keepID, otherID := action.NodeID, action.OtherID
	if keepID == otherID {
		return &Delta{}
	}
	keep, ok1 := b.nodes[keepID]
	other, ok2 := b.nodes[otherID]
	if !ok1 || !ok2 {
		o.logger.Warn("merge of unknown nodes", zap.String("node", keepID), zap.String("other", otherID))
		return &Delta{}
	}

	delta := &Delta{UpdatedNodes: []string{keepID}, RemovedNodes: []string{otherID}}

	keep = keep.Clone()
	keep.Importance = math.Max(keep.Importance, other.Importance)
	keep.MemoryIDs = model.NormalizeSet(append(keep.MemoryIDs, other.MemoryIDs...))
	for k, v := range other.Properties {
		if keep.Properties == nil {
			keep.Properties = make(map[string]interface{})
		}
		if _, exists := keep.Properties[k]; !exists {
			keep.Properties[k] = v
		}
	}
	keep.UpdatedAt = obs.At

	for _, id := range b.incidentEdges(otherID) {
		e := b.edges[id]
		b.deleteEdge(id)
		delta.RemovedEdges = append(delta.RemovedEdges, id)

		if e.SourceID == otherID {
			e.SourceID = keepID
		}
		if e.TargetID == otherID {
			e.TargetID = keepID
		}
		if e.SourceID == e.TargetID {
			continue
		}

		e.ID = model.EdgeID(e.SourceID, e.Relation, e.TargetID)
		o.settle(&e, obs.At)
		if existing, ok := b.edges[e.ID]; ok {
			o.settle(&existing, obs.At)
			existing.Weight = math.Min(1, existing.Weight+e.Weight)
			existing.EvidenceCount += e.EvidenceCount
			existing.Confidence = math.Max(existing.Confidence, e.Confidence)
			existing.UpdatedAt = obs.At
			b.putEdge(existing)
			delta.UpdatedEdges = append(delta.UpdatedEdges, e.ID)
			continue
		}
		b.putEdge(e)
		delta.AddedEdges = append(delta.AddedEdges, e.ID)
	}

	b.deleteNode(otherID)
	b.putNode(keep)
	// The merged label keeps resolving to the surviving node.
	b.labels[labelKey(other.Label)] = keepID

	o.logger.Debug("graph nodes merged", zap.String("node", keepID), zap.String("merged", otherID))
	return delta
}

func (o *Operator) pruneNode(b *builder, id string) *Delta {
	if _, ok := b.nodes[id]; !ok {
		return &Delta{}
	}
	delta := &Delta{RemovedNodes: []string{id}}
	for _, eid := range b.incidentEdges(id) {
		b.deleteEdge(eid)
		delta.RemovedEdges = append(delta.RemovedEdges, eid)
	}
	b.deleteNode(id)
	return delta
}

func (o *Operator) pruneEdge(b *builder, id string) *Delta {
	if _, ok := b.edges[id]; !ok {
		return &Delta{}
	}
	b.deleteEdge(id)
	return &Delta{RemovedEdges: []string{id}}
}

// builder is the copy-on-write working set of one ApplyAll call.
type builder struct {
	base   *Snapshot
	nodes  map[string]model.GraphNode
	edges  map[string]model.GraphEdge
	labels map[string]string
}

func newBuilder(g *Snapshot) *builder {
	b := &builder{
		base:   g,
		nodes:  make(map[string]model.GraphNode, len(g.nodes)),
		edges:  make(map[string]model.GraphEdge, len(g.edges)),
		labels: make(map[string]string, len(g.labels)),
	}
	for k, v := range g.nodes {
		b.nodes[k] = v
	}
	for k, v := range g.edges {
		b.edges[k] = v
	}
	for k, v := range g.labels {
		b.labels[k] = v
	}
	return b
}

func (b *builder) putNode(n model.GraphNode) {
	b.nodes[n.ID] = n
	b.labels[labelKey(n.Label)] = n.ID
}

func (b *builder) deleteNode(id string) {
	if n, ok := b.nodes[id]; ok && b.labels[labelKey(n.Label)] == id {
		delete(b.labels, labelKey(n.Label))
	}
	delete(b.nodes, id)
}

func (b *builder) putEdge(e model.GraphEdge) {
	b.edges[e.ID] = e
}

func (b *builder) deleteEdge(id string) {
	delete(b.edges, id)
}

func (b *builder) edgeIDs() []string {
	ids := make([]string, 0, len(b.edges))
	for id := range b.edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *builder) incidentEdges(nodeID string) []string {
	var ids []string
	for id, e := range b.edges {
		if e.SourceID == nodeID || e.TargetID == nodeID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (b *builder) build(at time.Time) *Snapshot {
	s := newSnapshot(b.base.version, at, b.nodes, b.edges)
	// Merged labels are aliases that newSnapshot cannot derive from the nodes.
	for label, id := range b.labels {
		if _, ok := b.nodes[id]; ok {
			s.labels[label] = id
		}
	}
	return s
}
