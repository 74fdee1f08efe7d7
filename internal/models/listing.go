// Package models defines the domain types for BarterMate.
package models

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Category is one of the fixed listing category tags.
type Category string

// Listing categories.
const (
	CategoryService     Category = "service"
	CategoryProduce     Category = "produce"
	CategoryProducts    Category = "products"
	CategoryExperiences Category = "experiences"
	CategoryTransport   Category = "transport"
	CategoryKnowledge   Category = "knowledge"
	CategoryHome        Category = "home"
	CategoryOther       Category = "other"

	// CategoryNone is only valid as a wanted category.
	CategoryNone Category = "none"
)

// Categories lists every tag a listing may be posted under.
var Categories = []Category{
	CategoryService,
	CategoryProduce,
	CategoryProducts,
	CategoryExperiences,
	CategoryTransport,
	CategoryKnowledge,
	CategoryHome,
	CategoryOther,
}

func categoryValues(extra ...Category) []interface{} {
	out := make([]interface{}, 0, len(Categories)+len(extra))
	for _, c := range Categories {
		out = append(out, c)
	}
	for _, c := range extra {
		out = append(out, c)
	}
	return out
}

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Validate validates the coordinate ranges.
func (c Coordinate) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Latitude, validation.Min(-90.0), validation.Max(90.0)),
		validation.Field(&c.Longitude, validation.Min(-180.0), validation.Max(180.0)),
	)
}

// Draft is a locally persisted, not yet submitted listing.
//
// Every field may be empty while the user is composing. ID is assigned on the
// first save and becomes the remote listing identifier, so resubmitting the
// same draft never creates a second listing.
type Draft struct {
	ID             string      `json:"id,omitempty"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Category       Category    `json:"category,omitempty"`
	WantedCategory Category    `json:"wanted_category,omitempty"`
	WantedDetails  string      `json:"wanted_details,omitempty"`
	IsFree         bool        `json:"is_free"`
	Location       *Coordinate `json:"location,omitempty"`
	ImageURI       string      `json:"image_uri,omitempty"`
}

// Incomplete reports whether the draft lacks a title, description, category
// or coordinate pair. Incomplete drafts are never submitted automatically.
func (d Draft) Incomplete() bool {
	return strings.TrimSpace(d.Title) == "" ||
		strings.TrimSpace(d.Description) == "" ||
		d.Category == "" ||
		d.Location == nil
}

// Validate checks the fields that are present. Missing fields are allowed.
func (d Draft) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Title, validation.Length(0, 120)),
		validation.Field(&d.Description, validation.Length(0, 4000)),
		validation.Field(&d.Category, validation.In(categoryValues()...)),
		validation.Field(&d.WantedCategory, validation.In(categoryValues(CategoryNone)...)),
		validation.Field(&d.WantedDetails, validation.Length(0, 1000)),
		validation.Field(&d.Location),
	)
}

// OwnerSummary is the denormalized view of a listing's owner.
type OwnerSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	IsPremium bool   `json:"is_premium"`
}

// Listing is a remote barter offer.
type Listing struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Category       Category      `json:"category"`
	IsFree         bool          `json:"is_free"`
	WantedCategory Category      `json:"wanted_category,omitempty"`
	WantedDetails  string        `json:"wanted_details,omitempty"`
	Location       *Coordinate   `json:"location,omitempty"`
	ImageURL       string        `json:"image_url,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	Owner          *OwnerSummary `json:"user,omitempty"`
}

// Premium reports whether the listing's owner is a premium member.
func (l Listing) Premium() bool {
	return l.Owner != nil && l.Owner.IsPremium
}

// Validate rejects listings that arrive from the remote side malformed.
func (l Listing) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.ID, validation.Required),
		validation.Field(&l.UserID, validation.Required),
		validation.Field(&l.Title, validation.Required),
		validation.Field(&l.Category, validation.Required),
		validation.Field(&l.Location),
	)
}

// ListingFromDraft builds the listing submitted for a complete draft.
func ListingFromDraft(d Draft, userID, imageURL string, now time.Time) Listing {
	var loc *Coordinate
	if d.Location != nil {
		c := *d.Location
		loc = &c
	}
	return Listing{
		ID:             d.ID,
		UserID:         userID,
		Title:          strings.TrimSpace(d.Title),
		Description:    strings.TrimSpace(d.Description),
		Category:       d.Category,
		IsFree:         d.IsFree,
		WantedCategory: d.WantedCategory,
		WantedDetails:  d.WantedDetails,
		Location:       loc,
		ImageURL:       imageURL,
		CreatedAt:      now.UTC(),
	}
}
