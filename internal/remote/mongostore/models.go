package mongostore

import (
	"time"

	"github.com/starford/bartermate/internal/models"
)

type userDoc struct {
	ID        string `bson:"_id"`
	Username  string `bson:"username"`
	IsPremium bool   `bson:"is_premium"`
}

func (u userDoc) toModel() models.OwnerSummary {
	return models.OwnerSummary{ID: u.ID, Username: u.Username, IsPremium: u.IsPremium}
}

type listingDoc struct {
	ID             string    `bson:"_id"`
	UserID         string    `bson:"user_id"`
	Title          string    `bson:"title"`
	Description    string    `bson:"description"`
	Category       string    `bson:"category"`
	IsFree         bool      `bson:"is_free"`
	WantedCategory string    `bson:"wanted_category,omitempty"`
	WantedDetails  string    `bson:"wanted_details,omitempty"`
	Lat            *float64  `bson:"lat,omitempty"`
	Lon            *float64  `bson:"lon,omitempty"`
	ImageURL       string    `bson:"image_url,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`

	// Populated by $lookup; never written.
	User []userDoc `bson:"user,omitempty"`
}

func fromModel(l models.Listing) listingDoc {
	doc := listingDoc{
		ID:             l.ID,
		UserID:         l.UserID,
		Title:          l.Title,
		Description:    l.Description,
		Category:       string(l.Category),
		IsFree:         l.IsFree,
		WantedCategory: string(l.WantedCategory),
		WantedDetails:  l.WantedDetails,
		ImageURL:       l.ImageURL,
		CreatedAt:      l.CreatedAt,
	}
	if l.Location != nil {
		lat, lon := l.Location.Latitude, l.Location.Longitude
		doc.Lat, doc.Lon = &lat, &lon
	}
	return doc
}

func (d listingDoc) toModel() models.Listing {
	l := models.Listing{
		ID:             d.ID,
		UserID:         d.UserID,
		Title:          d.Title,
		Description:    d.Description,
		Category:       models.Category(d.Category),
		IsFree:         d.IsFree,
		WantedCategory: models.Category(d.WantedCategory),
		WantedDetails:  d.WantedDetails,
		ImageURL:       d.ImageURL,
		CreatedAt:      d.CreatedAt,
	}
	// Only a full pair counts as a location.
	if d.Lat != nil && d.Lon != nil {
		l.Location = &models.Coordinate{Latitude: *d.Lat, Longitude: *d.Lon}
	}
	if len(d.User) > 0 {
		owner := d.User[0].toModel()
		l.Owner = &owner
	}
	return l
}
