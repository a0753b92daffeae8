package geo

import (
	"math"
	"sort"
	"sync"

	"github.com/example/ride-matchmaking/internal/models"
)

// Index is an in-process geospatial set of named points. It backs the
// memory state store when no Redis is configured.
type Index struct {
	mu     sync.RWMutex
	points map[string]models.Coord
}

func NewIndex() *Index {
	return &Index{points: make(map[string]models.Coord)}
}

func (g *Index) Upsert(member string, lat, lon float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[member] = models.Coord{Lat: lat, Lon: lon}
}

func (g *Index) Remove(member string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points, member)
}

// Nearby returns up to limit members within radiusMeters, nearest first.
// A limit <= 0 means no cap.
// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lon, radiusMeters float64, limit int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		member string
		dist   float64
	}
	arr := make([]pair, 0, len(g.points))
	for m, p := range g.points {
		dist := Haversine(lat, lon, p.Lat, p.Lon)
		if dist > radiusMeters {
			continue
		}
		arr = append(arr, pair{m, dist})
	}
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N; ties broken by name for stable output
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist || (arr[j].dist == arr[minIdx].dist && arr[j].member < arr[minIdx].member) {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].member)
	}
	return out
}

// Members lists every member in lexical order.
func (g *Index) Members() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.points))
	for m := range g.points {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
