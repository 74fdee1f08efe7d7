// Package feed keeps the ordered listing feed: fetched remotely, cached on
// the device for offline use and kept current by realtime inserts.
package feed

import (
	"cmp"
	"slices"

	"github.com/starford/bartermate/internal/geo"
	"github.com/starford/bartermate/internal/models"
)

// Sort orders listings in place. Listings with a location come first; within
// each group premium owners lead, then distance from origin ascending. With
// a nil origin every distance compares equal. The sort is stable, so sorting
// an ordered feed leaves it unchanged.
func Sort(ls []models.Listing, origin *models.Coordinate) {
	slices.SortStableFunc(ls, func(a, b models.Listing) int {
		return compare(a, b, origin)
	})
}

func compare(a, b models.Listing, origin *models.Coordinate) int {
	if c := boolFirst(a.Location != nil, b.Location != nil); c != 0 {
		return c
	}
	if c := boolFirst(a.Premium(), b.Premium()); c != 0 {
		return c
	}
	if origin == nil || a.Location == nil {
		return 0
	}
	return cmp.Compare(geo.Distance(*origin, *a.Location), geo.Distance(*origin, *b.Location))
}

// boolFirst orders true before false.
func boolFirst(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}

// Filter returns the listings in category, or a copy of all of them when
// category is empty.
func Filter(ls []models.Listing, category models.Category) []models.Listing {
	out := make([]models.Listing, 0, len(ls))
	for _, l := range ls {
		if category == "" || l.Category == category {
			out = append(out, l)
		}
	}
	return out
}
