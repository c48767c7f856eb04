package correlation

import (
	"math"
	"sort"
)

// DimCluster is a group of dimensions that move together.
type DimCluster struct {
	ID                int      `json:"id"`
	Dimensions        []string `json:"dimensions"`
	DominantFactors   []string `json:"dominantFactors"`
	Cohesion          float64  `json:"cohesion"` // mean intra-cluster |r|
	RiskLevel         string   `json:"riskLevel"`
	BusinessRelevance float64  `json:"businessRelevance"`
}

// clusterDimensions groups the matrix dimensions by average-linkage
// agglomerative clustering over the distance 1-|r|, stopping at
// max(3, ceil(d/5)) clusters.
func (e *Engine) clusterDimensions(m *Matrix) []DimCluster {
	d := len(m.Dims)
	if d < 4 {
		return nil
	}
	target := int(math.Ceil(float64(d) / 5))
	if target < 3 {
		target = 3
	}

	// Start with singleton clusters of dimension indices.
	clusters := make([][]int, d)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	dist := func(a, b int) float64 {
		return 1 - math.Abs(m.At(m.Dims[a], m.Dims[b]).Coefficient)
	}
	linkage := func(ca, cb []int) float64 {
		sum := 0.0
		for _, a := range ca {
			for _, b := range cb {
				sum += dist(a, b)
			}
		}
		return sum / float64(len(ca)*len(cb))
	}

	for len(clusters) > target {
		bi, bj, best := -1, -1, math.MaxFloat64
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				if l := linkage(clusters[i], clusters[j]); l < best {
					bi, bj, best = i, j, l
				}
			}
		}
		merged := append(append([]int{}, clusters[bi]...), clusters[bj]...)
		clusters[bi] = merged
		clusters = append(clusters[:bj], clusters[bj+1:]...)
	}

	groups := dimensionGroups()
	out := make([]DimCluster, 0, len(clusters))
	for id, members := range clusters {
		names := make([]string, len(members))
		for i, idx := range members {
			names[i] = m.Dims[idx]
		}
		sort.Strings(names)

		cohesion := clusterCohesion(m, names)
		out = append(out, DimCluster{
			ID:                id,
			Dimensions:        names,
			DominantFactors:   dominantFactors(m, names),
			Cohesion:          cohesion,
			RiskLevel:         clusterRiskLevel(groups, names, cohesion),
			BusinessRelevance: businessRelevance(groups, names),
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Cohesion > out[b].Cohesion })
	for i := range out {
		out[i].ID = i
	}
	return out
}

// clusterCohesion is the mean pairwise |r| among cluster members.
func clusterCohesion(m *Matrix, names []string) float64 {
	if len(names) < 2 {
		return 0
	}
	sum, pairs := 0.0, 0
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			sum += math.Abs(m.At(names[i], names[j]).Coefficient)
			pairs++
		}
	}
	return sum / float64(pairs)
}

// dominantFactors picks the members most correlated with the rest of the
// cluster, up to two.
func dominantFactors(m *Matrix, names []string) []string {
	if len(names) == 1 {
		return names
	}
	type scored struct {
		name string
		mean float64
	}
	ranked := make([]scored, 0, len(names))
	for _, a := range names {
		sum := 0.0
		for _, b := range names {
			if a == b {
				continue
			}
			sum += math.Abs(m.At(a, b).Coefficient)
		}
		ranked = append(ranked, scored{a, sum / float64(len(names)-1)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].mean > ranked[j].mean })
	limit := 2
	if len(ranked) < limit {
		limit = len(ranked)
	}
	factors := make([]string, limit)
	for i := 0; i < limit; i++ {
		factors[i] = ranked[i].name
	}
	return factors
}

// clusterRiskLevel grades a cluster by how fraud-relevant its member groups
// are and how tightly they move together.
func clusterRiskLevel(groups map[string]Group, names []string, cohesion float64) string {
	relevance := 0.0
	for _, n := range names {
		relevance += fraudRelevanceWeight[groups[n]]
	}
	relevance /= float64(len(names))

	score := relevance * cohesion
	switch {
	case score >= 0.5:
		return "high"
	case score >= 0.25:
		return "medium"
	default:
		return "low"
	}
}

// businessRelevance is the fraction of members in the behavioral or
// contextual groups.
func businessRelevance(groups map[string]Group, names []string) float64 {
	hits := 0
	for _, n := range names {
		if g := groups[n]; g == GroupBehavioral || g == GroupContextual {
			hits++
		}
	}
	return float64(hits) / float64(len(names))
}
