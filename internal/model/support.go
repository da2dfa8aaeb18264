package model

import "time"

// Notice is an announcement shown to every user.
type Notice struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	IsPinned  bool      `json:"is_pinned"`
	CreatedAt time.Time `json:"created_at"`
}

// Inquiry states.
const (
	InquiryOpen     = "OPEN"
	InquiryAnswered = "ANSWERED"
	InquiryClosed   = "CLOSED"
)

// Inquiry is a customer-support thread. Its chat room ID is the inquiry ID.
type Inquiry struct {
	ID        uint64    `json:"id"`
	UserID    uint64    `json:"user_id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Status    string    `json:"status"`
	Unread    int       `json:"unread_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is a persisted support-chat line. IDs are ULIDs so they sort
// by creation time.
type ChatMessage struct {
	ID         string    `json:"id"`
	InquiryID  uint64    `json:"room_id"`
	SenderID   uint64    `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}
