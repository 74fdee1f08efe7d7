// Package geo provides the caller's coordinate and great-circle distances.
package geo

import (
	"context"
	"math"
	"sync"

	"github.com/starford/bartermate/internal/models"
)

const earthRadiusKm = 6371.0

// Provider answers a one-shot "where am I" query. ok is false when the
// position is unknown or permission was not granted.
type Provider interface {
	Current(ctx context.Context) (c models.Coordinate, ok bool)
}

// Static is a Provider with a settable position.
type Static struct {
	mu  sync.RWMutex
	pos *models.Coordinate
}

// NewStatic returns a provider at c, or an unknown position if c is nil.
func NewStatic(c *models.Coordinate) *Static {
	s := &Static{}
	s.Set(c)
	return s
}

// Current returns the configured position.
func (s *Static) Current(context.Context) (models.Coordinate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pos == nil {
		return models.Coordinate{}, false
	}
	return *s.pos, true
}

// Set replaces the position. nil clears it.
func (s *Static) Set(c *models.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil {
		s.pos = nil
		return
	}
	cp := *c
	s.pos = &cp
}

// Distance returns the haversine distance between a and b in kilometres.
func Distance(a, b models.Coordinate) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
