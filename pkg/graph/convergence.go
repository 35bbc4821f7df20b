package graph

import (
	"math"
	"sync"
)

// ConvergenceConfig contains the stability criteria.
type ConvergenceConfig struct {
	// Window is the number of recent commits the mean churn is taken over. Default: 10
	Window int `json:"window" yaml:"window" validate:"gte=0"`

	// ChurnThreshold is the churn rate under which a commit counts as stable. Default: 0.05
	ChurnThreshold float64 `json:"churn_threshold" yaml:"churn_threshold" validate:"gte=0"`

	// StableCommits is the number of consecutive stable commits needed. Default: 3
	StableCommits int `json:"stable_commits" yaml:"stable_commits" validate:"gte=0"`
}

func (c ConvergenceConfig) withDefaults() ConvergenceConfig {
	if c.Window == 0 {
		c.Window = 10
	}
	if c.ChurnThreshold == 0 {
		c.ChurnThreshold = 0.05
	}
	if c.StableCommits == 0 {
		c.StableCommits = 3
	}
	return c
}

// Diagnostics describes how settled a graph is. It is informational only.
type Diagnostics struct {
	// LastChurn is the churn rate of the latest commit: changes / (nodes + edges).
	LastChurn float64

	// MeanChurn is the mean churn rate over the rolling window.
	MeanChurn float64

	// SpectralGap is |λ1| - |λ2| of the symmetric weighted adjacency matrix.
	SpectralGap float64

	// Stable is true after StableCommits consecutive commits under ChurnThreshold.
	Stable bool

	Commits int
}

// Convergence tracks churn over a rolling window of commits.
type Convergence struct {
	cfg ConvergenceConfig

	mu        sync.Mutex
	window    []float64
	stableRun int
	commits   int
	last      Diagnostics
}

// NewConvergence creates a tracker. Zero config fields take their defaults.
func NewConvergence(cfg ConvergenceConfig) *Convergence {
	return &Convergence{cfg: cfg.withDefaults()}
}

// Observe records a committed delta against the resulting graph.
func (c *Convergence) Observe(delta *Delta, g *Snapshot) Diagnostics {
	size := g.NodeCount() + g.EdgeCount()
	if size < 1 {
		size = 1
	}
	churn := float64(delta.Changes()) / float64(size)
	gap := SpectralGap(g)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.commits++
	c.window = append(c.window, churn)
	if len(c.window) > c.cfg.Window {
		c.window = c.window[len(c.window)-c.cfg.Window:]
	}
	if churn < c.cfg.ChurnThreshold {
		c.stableRun++
	} else {
		c.stableRun = 0
	}

	var sum float64
	for _, v := range c.window {
		sum += v
	}
	c.last = Diagnostics{
		LastChurn:   churn,
		MeanChurn:   sum / float64(len(c.window)),
		SpectralGap: gap,
		Stable:      c.stableRun >= c.cfg.StableCommits,
		Commits:     c.commits,
	}
	return c.last
}

// Last returns the diagnostics of the latest observed commit.
func (c *Convergence) Last() Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

const (
	powerIterations = 200
	powerTolerance  = 1e-9
)

// SpectralGap returns |λ1| - |λ2| of the symmetric weighted adjacency matrix
// of g, where edge direction is ignored and parallel edges add up.
//
// The two largest eigenvalues of A² are found by power iteration with
// deflation, using sparse products over the edge list.
func SpectralGap(g *Snapshot) float64 {
	n := len(g.nodes)
	if n < 2 || len(g.edges) == 0 {
		return 0
	}

	ids := make([]string, 0, n)
	for _, node := range g.Nodes() {
		ids = append(ids, node.ID)
	}
	index := make(map[string]int, n)
	for i, id := range ids {
		index[id] = i
	}

	type entry struct {
		i, j int
		w    float64
	}
	entries := make([]entry, 0, len(g.edges))
	for _, e := range g.Edges() {
		entries = append(entries, entry{index[e.SourceID], index[e.TargetID], e.Weight})
	}

	mulA := func(v []float64) []float64 {
		out := make([]float64, n)
		for _, e := range entries {
			out[e.i] += e.w * v[e.j]
			out[e.j] += e.w * v[e.i]
		}
		return out
	}
	mulA2 := func(v []float64) []float64 { return mulA(mulA(v)) }

	mu1, v1 := powerIterate(n, mulA2, nil)
	mu2, _ := powerIterate(n, mulA2, v1)
	l1 := math.Sqrt(math.Max(mu1, 0))
	l2 := math.Sqrt(math.Max(mu2, 0))
	return l1 - l2
}

// powerIterate returns the dominant eigenpair of the positive semidefinite
// operator mul, restricted to the complement of deflate when given.
func powerIterate(n int, mul func([]float64) []float64, deflate []float64) (float64, []float64) {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1 + float64(i)*1e-3
	}
	project(v, deflate)
	if !normalize(v) {
		return 0, v
	}

	var lambda float64
	for it := 0; it < powerIterations; it++ {
		w := mul(v)
		project(w, deflate)
		next := dot(v, w)
		if !normalize(w) {
			return 0, v
		}
		v = w
		if math.Abs(next-lambda) < powerTolerance {
			lambda = next
			break
		}
		lambda = next
	}
	return lambda, v
}

func project(v, onto []float64) {
	if onto == nil {
		return
	}
	d := dot(v, onto)
	for i := range v {
		v[i] -= d * onto[i]
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func normalize(v []float64) bool {
	norm := math.Sqrt(dot(v, v))
	if norm < 1e-12 {
		return false
	}
	for i := range v {
		v[i] /= norm
	}
	return true
}
