package geo

import (
	"math"
	"math/rand"

	"github.com/feedbackloop/sentinel/internal/session"
)

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance between two points in km.
func Haversine(a, b session.Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// KMeans clusters points into k groups and returns per-point assignments
// plus the final centroids. Deterministic for a fixed seed. Centroid math is
// planar (lat/lon averaging), which is fine at the city scales clustering
// operates on.
func KMeans(points []session.Coordinates, k int, seed int64) ([]int, []session.Coordinates) {
	n := len(points)
	if k <= 0 || n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	rng := rand.New(rand.NewSource(seed))

	// Initialize centroids from distinct random points.
	perm := rng.Perm(n)
	centroids := make([]session.Coordinates, k)
	for i := 0; i < k; i++ {
		centroids[i] = points[perm[i]]
	}

	assignments := make([]int, n)
	const maxIter = 50
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.MaxFloat64
			for c, cent := range centroids {
				if d := Haversine(p, cent); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		// Recompute centroids.
		sumLat := make([]float64, k)
		sumLon := make([]float64, k)
		counts := make([]int, k)
		for i, p := range points {
			c := assignments[i]
			sumLat[c] += p.Lat
			sumLon[c] += p.Lon
			counts[c]++
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Re-seed an empty cluster from a random point.
				centroids[c] = points[rng.Intn(n)]
				changed = true
				continue
			}
			centroids[c] = session.Coordinates{
				Lat: sumLat[c] / float64(counts[c]),
				Lon: sumLon[c] / float64(counts[c]),
			}
		}

		if !changed {
			break
		}
	}
	return assignments, centroids
}
