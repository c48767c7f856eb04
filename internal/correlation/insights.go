package correlation

import (
	"fmt"
	"math"
	"sort"
)

// BusinessInsights is the human-facing digest of a batch analysis.
type BusinessInsights struct {
	KeyFindings     []string `json:"keyFindings"`
	RiskFactors     []string `json:"riskFactors"`
	Opportunities   []string `json:"opportunities"`
	Recommendations []string `json:"recommendations"`
}

const maxFindings = 5

// buildInsights turns the strongest relationships, the fraud-relevant ones,
// and the top principal components into plain-language findings.
func (e *Engine) buildInsights(a *Analysis) *BusinessInsights {
	in := &BusinessInsights{}

	// Relationships arrive sorted by |r| descending.
	for i, rel := range a.Relationships {
		if i >= maxFindings {
			break
		}
		in.KeyFindings = append(in.KeyFindings, fmt.Sprintf(
			"%s and %s show a %s %s correlation (r=%.2f, p=%.3f)",
			rel.DimA, rel.DimB, rel.Significance, direction(rel.Coefficient),
			rel.Coefficient, rel.PValue))
	}

	risky := make([]Relationship, 0, len(a.Relationships))
	for _, rel := range a.Relationships {
		if rel.FraudRelevance >= 0.4 {
			risky = append(risky, rel)
		}
	}
	sort.Slice(risky, func(i, j int) bool { return risky[i].FraudRelevance > risky[j].FraudRelevance })
	for i, rel := range risky {
		if i >= maxFindings {
			break
		}
		in.RiskFactors = append(in.RiskFactors, fmt.Sprintf(
			"%s/%s coupling is fraud-relevant (relevance %.2f): watch sessions where both deviate",
			rel.DimA, rel.DimB, rel.FraudRelevance))
	}

	if a.PCA != nil {
		for i, comp := range a.PCA.Components {
			if i >= 2 {
				break
			}
			in.Opportunities = append(in.Opportunities, fmt.Sprintf(
				"component %d explains %.0f%% of variance, driven by %s",
				i+1, comp.ExplainedVariance*100, topLoadings(comp.Loadings, 3)))
		}
	}

	for _, rel := range a.Relationships {
		if rel.Actionable {
			in.Recommendations = append(in.Recommendations, fmt.Sprintf(
				"add a joint threshold on %s and %s to the scoring rules", rel.DimA, rel.DimB))
		}
		if len(in.Recommendations) >= maxFindings {
			break
		}
	}
	if len(a.Clusters) > 0 && a.Clusters[0].RiskLevel == "high" {
		in.Recommendations = append(in.Recommendations, fmt.Sprintf(
			"review the %v cluster: high fraud relevance with cohesion %.2f",
			a.Clusters[0].DominantFactors, a.Clusters[0].Cohesion))
	}
	if len(in.Recommendations) == 0 {
		in.Recommendations = append(in.Recommendations,
			"no actionable correlations this batch; keep current thresholds")
	}
	return in
}

func direction(r float64) string {
	if r < 0 {
		return "negative"
	}
	return "positive"
}

// topLoadings names the k features with the largest absolute loadings.
func topLoadings(loadings map[string]float64, k int) string {
	type lv struct {
		name string
		abs  float64
	}
	ranked := make([]lv, 0, len(loadings))
	for name, w := range loadings {
		ranked = append(ranked, lv{name, math.Abs(w)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].abs != ranked[j].abs {
			return ranked[i].abs > ranked[j].abs
		}
		return ranked[i].name < ranked[j].name
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := ""
	for i, r := range ranked {
		if i > 0 {
			out += ", "
		}
		out += r.name
	}
	return out
}
