package model

import (
	"time"

	"github.com/timeegg/timeegg-server/internal/geo"
)

// Capsule types.
const (
	CapsuleEasterEgg   = "EASTER_EGG"
	CapsuleTimeCapsule = "TIME_CAPSULE"
)

// Capsule states. A RETIRED egg no longer occupies a slot and is hidden
// from the map.
const (
	CapsuleActive  = "ACTIVE"
	CapsuleRetired = "RETIRED"
)

// Capsule is a geolocated item: a single-author easter egg or the
// buried result of a waiting room.
type Capsule struct {
	ID        uint64     `json:"id"`
	OwnerID   uint64     `json:"owner_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	MediaURLs []string   `json:"media_urls"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	ViewLimit int        `json:"view_limit"`
	ViewCount int        `json:"view_count"`
	Viewers   []Viewer   `json:"viewers,omitempty"`
	OpenDate  *time.Time `json:"open_date,omitempty"`
	RoomID    *uint64    `json:"waiting_room_id,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// Point returns the capsule location and whether it has one.
func (c Capsule) Point() (geo.Point, bool) {
	if c.Latitude == nil || c.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *c.Latitude, Lng: *c.Longitude}, true
}

// Viewer records one discovery of a capsule.
type Viewer struct {
	UserID   uint64    `json:"user_id"`
	UserName string    `json:"user_name"`
	ViewedAt time.Time `json:"viewed_at"`
}

// SlotUsage is the caller's easter-egg slot accounting.
type SlotUsage struct {
	Total     int `json:"total_slots"`
	Used      int `json:"used_slots"`
	Remaining int `json:"remaining_slots"`
}
