package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeDraft() Draft {
	return Draft{
		ID:          "d-1",
		Title:       "Bike",
		Description: "Used bike",
		Category:    CategoryProducts,
		Location:    &Coordinate{Latitude: 1.0, Longitude: 2.0},
	}
}

func TestDraft_Incomplete(t *testing.T) {
	cases := map[string]func(*Draft){
		"missing title":       func(d *Draft) { d.Title = "" },
		"blank title":         func(d *Draft) { d.Title = "   " },
		"missing description": func(d *Draft) { d.Description = "" },
		"missing category":    func(d *Draft) { d.Category = "" },
		"missing location":    func(d *Draft) { d.Location = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := completeDraft()
			mutate(&d)
			assert.True(t, d.Incomplete())
		})
	}

	assert.False(t, completeDraft().Incomplete())
}

func TestDraft_Validate(t *testing.T) {
	require.NoError(t, Draft{}.Validate(), "empty draft is a valid work in progress")
	require.NoError(t, completeDraft().Validate())

	bad := completeDraft()
	bad.Category = "weapons"
	assert.Error(t, bad.Validate())

	bad = completeDraft()
	bad.Location = &Coordinate{Latitude: 91, Longitude: 0}
	assert.Error(t, bad.Validate())

	wanted := completeDraft()
	wanted.WantedCategory = CategoryNone
	assert.NoError(t, wanted.Validate())
}

func TestListingFromDraft(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d := completeDraft()
	d.Title = "  Bike "

	l := ListingFromDraft(d, "user-1", "https://cdn/x.jpg", now)
	assert.Equal(t, "d-1", l.ID)
	assert.Equal(t, "user-1", l.UserID)
	assert.Equal(t, "Bike", l.Title)
	assert.Equal(t, "https://cdn/x.jpg", l.ImageURL)
	assert.Equal(t, now, l.CreatedAt)
	require.NotNil(t, l.Location)

	// The listing must not alias the draft's coordinate.
	d.Location.Latitude = 50
	assert.Equal(t, 1.0, l.Location.Latitude)
	assert.NoError(t, l.Validate())
}

func TestListing_Validate(t *testing.T) {
	assert.Error(t, Listing{Title: "x", Category: CategoryHome}.Validate(), "missing id and owner")
	assert.False(t, Listing{}.Premium())
	assert.True(t, Listing{Owner: &OwnerSummary{IsPremium: true}}.Premium())
}
