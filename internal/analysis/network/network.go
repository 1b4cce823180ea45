// Package network builds a correlation graph and measures its connectivity.
package network

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	gnet "gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/Alias1177/Correlator/internal/analysis/correlation"
)

// DefaultThreshold is the minimum |r| that forms an edge
const DefaultThreshold = 0.5

// Edge connects two assets whose correlation passes the threshold
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// Centrality is the normalised degree of one node
type Centrality struct {
	Symbol string  `json:"symbol"`
	Degree int     `json:"degree"`
	Score  float64 `json:"centrality"`
}

// Network summarises the correlation graph
type Network struct {
	Threshold         float64            `json:"threshold"`
	Nodes             []string           `json:"nodes"`
	Edges             []Edge             `json:"edges"`
	Density           float64            `json:"density"`
	AverageClustering float64            `json:"average_clustering"`
	Components        [][]string         `json:"components"`
	DegreeCentrality  map[string]float64 `json:"degree_centrality"`
	Betweenness       map[string]float64 `json:"betweenness_centrality"`
	Closeness         map[string]float64 `json:"closeness_centrality"`
	Clustering        map[string]float64 `json:"clustering"`
	MostCentral       []Centrality       `json:"most_central"`
	MeanEdgeWeight    float64            `json:"mean_edge_weight"`
	SystemicRisk      float64            `json:"systemic_risk"`
}

// Build derives the graph from a correlation matrix. Edge lengths are the
// correlation distance 1-|r|, so strongly correlated assets sit close together.
func Build(m *correlation.Matrix, threshold float64) *Network {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	n := &Network{
		Threshold:        threshold,
		Nodes:            append([]string(nil), m.Symbols...),
		DegreeCentrality: map[string]float64{},
		Betweenness:      map[string]float64{},
		Closeness:        map[string]float64{},
		Clustering:       map[string]float64{},
	}

	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := range n.Nodes {
		g.AddNode(simple.Node(i))
	}
	var weightSum float64
	for i, a := range m.Symbols {
		for j := i + 1; j < len(m.Symbols); j++ {
			r := m.At(i, j)
			if math.Abs(r) < threshold {
				continue
			}
			n.Edges = append(n.Edges, Edge{Source: a, Target: m.Symbols[j], Weight: r})
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(j), math.Max(0, 1-math.Abs(r))))
			weightSum += math.Abs(r)
		}
	}

	nodes := len(n.Nodes)
	if possible := nodes * (nodes - 1) / 2; possible > 0 {
		n.Density = float64(len(n.Edges)) / float64(possible)
	}
	if len(n.Edges) > 0 {
		n.MeanEdgeWeight = weightSum / float64(len(n.Edges))
	}
	n.SystemicRisk = n.Density * n.MeanEdgeWeight

	// Brandes counts each unordered pair twice on an undirected graph
	betweenness := gnet.Betweenness(g)
	closeness := gnet.Closeness(g, path.DijkstraAllPaths(g))

	var clusteringSum float64
	for i, s := range n.Nodes {
		id := int64(i)
		deg := g.From(id).Len()
		if nodes > 1 {
			n.DegreeCentrality[s] = float64(deg) / float64(nodes-1)
		}
		if nodes > 2 {
			n.Betweenness[s] = betweenness[id] / float64((nodes-1)*(nodes-2))
		}
		n.Closeness[s] = finite(closeness[id])
		c := localClustering(g, id)
		n.Clustering[s] = c
		clusteringSum += c
		n.MostCentral = append(n.MostCentral, Centrality{Symbol: s, Degree: deg, Score: n.DegreeCentrality[s]})
	}
	if nodes > 0 {
		n.AverageClustering = clusteringSum / float64(nodes)
	}
	sort.SliceStable(n.MostCentral, func(i, j int) bool {
		return n.MostCentral[i].Score > n.MostCentral[j].Score
	})
	if len(n.MostCentral) > 5 {
		n.MostCentral = n.MostCentral[:5]
	}
	n.Components = n.components(topo.ConnectedComponents(g))
	return n
}

// localClustering is the share of a node's neighbour pairs that are themselves linked
func localClustering(g graph.Undirected, id int64) float64 {
	neighbours := graph.NodesOf(g.From(id))
	k := len(neighbours)
	if k < 2 {
		return 0
	}
	var links int
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if g.HasEdgeBetween(neighbours[i].ID(), neighbours[j].ID()) {
				links++
			}
		}
	}
	return 2 * float64(links) / float64(k*(k-1))
}

// components names each connected component, largest first
func (n *Network) components(cc [][]graph.Node) [][]string {
	out := make([][]string, 0, len(cc))
	for _, c := range cc {
		comp := make([]string, len(c))
		for i, node := range c {
			comp[i] = n.Nodes[node.ID()]
		}
		sort.Strings(comp)
		out = append(out, comp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}

// finite maps the infinite closeness of an isolated node to zero
func finite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

// RiskLevel buckets the systemic risk score
func (n *Network) RiskLevel() string {
	switch {
	case n.SystemicRisk > 0.5:
		return "high"
	case n.SystemicRisk > 0.25:
		return "medium"
	default:
		return "low"
	}
}
