// Package service holds the domain rules of TimeEgg: waiting-room
// lifecycle, orders and payments, capsules and support threads. Handlers
// translate HTTP to calls here; repositories do the SQL.
package service

import (
	"errors"
	"fmt"
	"net/http"
)

// DomainError is a failure the client is expected to handle. Status is the
// HTTP status it maps to and Code the stable machine-readable identifier.
type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Is matches on Code so callers can compare against the sentinels below.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

func newErr(status int, code, msg string) *DomainError {
	return &DomainError{Status: status, Code: code, Message: msg}
}

// withMessage returns a copy of e carrying a request-specific message.
func withMessage(e *DomainError, format string, args ...any) *DomainError {
	return &DomainError{Status: e.Status, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// AsDomain unwraps err into a DomainError when it is one.
func AsDomain(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

var (
	ErrInvalidRequest = newErr(http.StatusBadRequest, "INVALID_REQUEST", "invalid request")

	ErrRoomNotFound     = newErr(http.StatusNotFound, "ROOM_NOT_FOUND", "waiting room not found")
	ErrNotParticipant   = newErr(http.StatusForbidden, "NOT_PARTICIPANT", "you are not a participant of this room")
	ErrInvalidInvite    = newErr(http.StatusForbidden, "INVALID_INVITE_CODE", "invite code does not match")
	ErrAlreadyJoined    = newErr(http.StatusConflict, "ALREADY_JOINED", "already a member of this room")
	ErrSlotsFull        = newErr(http.StatusConflict, "SLOTS_FULL", "every slot is taken")
	ErrJoinExpired      = newErr(http.StatusBadRequest, "DEADLINE_EXPIRED", "the submission deadline has passed")
	ErrJoinBuried       = newErr(http.StatusConflict, "ALREADY_SUBMITTED", "the capsule has already been buried")
	ErrNotHost          = newErr(http.StatusForbidden, "NOT_HOST", "only the host can submit")
	ErrAlreadySubmitted = newErr(http.StatusConflict, "ALREADY_SUBMITTED", "the capsule has already been buried")
	ErrDeadlineExpired  = newErr(http.StatusGone, "DEADLINE_EXPIRED", "the submission deadline has passed")
	ErrIncomplete       = newErr(http.StatusBadRequest, "INCOMPLETE_PARTICIPANTS", "some participants have not written yet")
	ErrInvalidLocation  = newErr(http.StatusBadRequest, "INVALID_LOCATION", "latitude or longitude out of range")
	ErrContentNotFound  = newErr(http.StatusNotFound, "CONTENT_NOT_FOUND", "nothing written yet")
	ErrContentExists    = newErr(http.StatusConflict, "CONTENT_EXISTS", "content already saved; use PATCH")
	ErrContentLocked    = newErr(http.StatusConflict, "ALREADY_SUBMITTED", "the capsule is buried; content is locked")
	ErrTooManyImages    = newErr(http.StatusBadRequest, "TOO_MANY_IMAGES", "too many images")
	ErrMediaNotAllowed  = newErr(http.StatusBadRequest, "MEDIA_NOT_ALLOWED", "this room does not allow that media")

	ErrOrderNotFound     = newErr(http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
	ErrOrderNotPaid      = newErr(http.StatusBadRequest, "ORDER_NOT_PAID", "order is not paid")
	ErrOrderUsed         = newErr(http.StatusConflict, "ORDER_ALREADY_USED", "order already has a waiting room")
	ErrOrderState        = newErr(http.StatusConflict, "INVALID_ORDER_STATUS", "order cannot change from its current status")
	ErrInvalidOption     = newErr(http.StatusBadRequest, "INVALID_OPTION", "unsupported order option")
	ErrAmountMismatch    = newErr(http.StatusBadRequest, "AMOUNT_MISMATCH", "amount does not match the order")
	ErrPaymentFailed     = newErr(http.StatusBadGateway, "PAYMENT_FAILED", "payment was rejected")
	ErrPaymentNotEnabled = newErr(http.StatusServiceUnavailable, "PAYMENT_UNAVAILABLE", "payments are not available")

	ErrCapsuleNotFound  = newErr(http.StatusNotFound, "CAPSULE_NOT_FOUND", "capsule not found")
	ErrNoEggSlots       = newErr(http.StatusConflict, "NO_EGG_SLOTS", "no easter egg slots left")
	ErrViewLimitReached = newErr(http.StatusConflict, "VIEW_LIMIT_REACHED", "this egg has been found too many times")
	ErrTooFar           = newErr(http.StatusForbidden, "TOO_FAR", "move closer to open this egg")
	ErrOwnCapsule       = newErr(http.StatusBadRequest, "OWN_CAPSULE", "you cannot discover your own egg")
	ErrNotDiscoverable  = newErr(http.StatusBadRequest, "NOT_DISCOVERABLE", "only easter eggs can be discovered")

	ErrNoticeNotFound  = newErr(http.StatusNotFound, "NOTICE_NOT_FOUND", "notice not found")
	ErrInquiryNotFound = newErr(http.StatusNotFound, "INQUIRY_NOT_FOUND", "inquiry not found")
	ErrInquiryClosed   = newErr(http.StatusConflict, "INQUIRY_CLOSED", "inquiry is closed")
)
