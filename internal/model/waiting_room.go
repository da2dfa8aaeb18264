package model

import "time"

// Waiting room lifecycle. BURIED is terminal.
const (
	RoomWaiting    = "WAITING"
	RoomInProgress = "IN_PROGRESS"
	RoomCompleted  = "COMPLETED"
	RoomBuried     = "BURIED"
)

// Participant roles. Every room has exactly one HOST.
const (
	ParticipantHost  = "HOST"
	ParticipantGuest = "PARTICIPANT"
)

// WaitingRoom is the staging area of a multi-participant time capsule.
// The server owns every field; clients only render it.
//
// Fields:
//  ID               – waiting_rooms.id.
//  OrderID          – the paid order that funded the room.
//  HostUserID       – user who created the room.
//  Deadline         – CreatedAt plus the submission window (24h).
//  Latitude/Longitude – burial coordinates once BURIED, or the fallback
//                     location given at creation before that.
//  CapsuleID        – capsule created when the room was buried.
type WaitingRoom struct {
	ID               uint64        `json:"waiting_room_id"`
	OrderID          string        `json:"order_id"`
	HostUserID       uint64        `json:"host_user_id"`
	CapsuleName      string        `json:"capsule_name"`
	OpenDate         time.Time     `json:"open_date"`
	Deadline         time.Time     `json:"deadline"`
	Status           string        `json:"status"`
	CurrentHeadcount int           `json:"current_headcount"`
	MaxHeadcount     int           `json:"max_headcount"`
	InviteCode       string        `json:"invite_code,omitempty"`
	Participants     []Participant `json:"participants"`
	IsAutoSubmitted  bool          `json:"is_auto_submitted"`
	Latitude         *float64      `json:"latitude,omitempty"`
	Longitude        *float64      `json:"longitude,omitempty"`
	CapsuleID        *uint64       `json:"capsule_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`

	// Settings copied from the order at creation.
	MaxImagesPerPerson int  `json:"-"`
	HasMusic           bool `json:"-"`
	HasVideo           bool `json:"-"`
}

// Settings returns the per-room upload rules.
func (r WaitingRoom) Settings() RoomSettings {
	return RoomSettings{
		WaitingRoomID:      r.ID,
		MaxHeadcount:       r.MaxHeadcount,
		MaxImagesPerPerson: r.MaxImagesPerPerson,
		HasMusic:           r.HasMusic,
		HasVideo:           r.HasVideo,
		Deadline:           r.Deadline,
		OpenDate:           r.OpenDate,
	}
}

// RoomSettings is the payload of GET /step-rooms/:id/settings.
type RoomSettings struct {
	WaitingRoomID      uint64    `json:"waiting_room_id"`
	MaxHeadcount       int       `json:"max_headcount"`
	MaxImagesPerPerson int       `json:"max_images_per_person"`
	HasMusic           bool      `json:"has_music"`
	HasVideo           bool      `json:"has_video"`
	Deadline           time.Time `json:"deadline"`
	OpenDate           time.Time `json:"open_date"`
}

// Affordances describes which upload controls a content editor offers.
type Affordances struct {
	MaxImages int
	Music     bool
	Video     bool
}

// Affordances derives the editor controls from the settings.
func (s RoomSettings) Affordances() Affordances {
	n := s.MaxImagesPerPerson
	if n < 0 {
		n = 0
	}
	return Affordances{MaxImages: n, Music: s.HasMusic, Video: s.HasVideo}
}

// Participant occupies one numbered slot of a waiting room.
type Participant struct {
	ID         uint64    `json:"participant_id"`
	RoomID     uint64    `json:"waiting_room_id"`
	UserID     uint64    `json:"user_id"`
	UserName   string    `json:"user_name"`
	SlotNumber int       `json:"slot_number"`
	Role       string    `json:"role"`
	Status     string    `json:"status"`
	HasContent bool      `json:"has_content"`
	JoinedAt   time.Time `json:"joined_at"`
}

// IsHost reports whether the participant holds the HOST role.
func (p Participant) IsHost() bool { return p.Role == ParticipantHost }

// Content is what one participant wrote into a waiting room.
type Content struct {
	ID            uint64    `json:"content_id"`
	RoomID        uint64    `json:"waiting_room_id"`
	ParticipantID uint64    `json:"participant_id"`
	Text          string    `json:"text"`
	Images        []string  `json:"images"`
	Music         string    `json:"music,omitempty"`
	Video         string    `json:"video,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
