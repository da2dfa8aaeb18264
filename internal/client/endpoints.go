package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/timeegg/timeegg-server/internal/media"
	"github.com/timeegg/timeegg-server/internal/model"
)

// ----- auth -----

// User is the profile returned by auth endpoints.
type User struct {
	ID       uint64 `json:"id"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
}

type authResponse struct {
	User User `json:"user"`
	tokenPair
}

// Register creates an account and stores the returned session.
func (c *Client) Register(ctx context.Context, email, password, nickname string) (User, error) {
	return c.authenticate(ctx, "/api/auth/register", map[string]string{
		"email": email, "password": password, "nickname": nickname,
	})
}

// Login stores a new session for the credentials.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	return c.authenticate(ctx, "/api/auth/login", map[string]string{"email": email, "password": password})
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (User, error) {
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return User{}, err
	}
	if err := c.tokens.Set(resp.Access.Token, resp.Refresh.Token); err != nil {
		return User{}, err
	}
	return resp.User, nil
}

// Logout revokes the stored refresh token and clears the store even when
// the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	rt := c.tokens.Refresh()
	var err error
	if rt != "" {
		raw, _ := json.Marshal(map[string]string{"refresh_token": rt})
		err = c.send(ctx, call{method: http.MethodPost, path: "/api/auth/logout",
			body: raw, contentType: "application/json", anonymous: true})
	}
	if cerr := c.tokens.Clear(); err == nil {
		err = cerr
	}
	c.cache.Clear()
	return err
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/api/me", nil, &u)
	return u, err
}

// ----- orders and payments -----

// OrderRequest is the checkout form.
type OrderRequest struct {
	TimeOption string `json:"time_option"`
	Headcount  int    `json:"headcount"`
	PhotoCount int    `json:"photo_count"`
	AddMusic   bool   `json:"add_music"`
	AddVideo   bool   `json:"add_video"`
}

// OrderStatus is the polling payload.
type OrderStatus struct {
	OrderID string `json:"order_id"`
	Status  string `json:"order_status"`
}

// Confirmation is the result of a confirmed payment.
type Confirmation struct {
	OrderID    string          `json:"order_id"`
	Status     string          `json:"order_status"`
	PaymentKey string          `json:"payment_key"`
	Method     string          `json:"method"`
	Amount     decimal.Decimal `json:"amount"`
	ApprovedAt time.Time       `json:"approved_at"`
}

func orderPath(id string) string { return "/api/orders/" + url.PathEscape(id) }

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (model.Order, error) {
	var o model.Order
	err := c.do(ctx, http.MethodPost, "/api/orders", req, &o)
	return o, err
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (model.Order, error) {
	var o model.Order
	err := c.do(ctx, http.MethodGet, orderPath(orderID), nil, &o)
	return o, err
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	var st OrderStatus
	err := c.query(ctx, orderPath(orderID)+"/status", &st)
	return st, err
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (model.Order, error) {
	var o model.Order
	err := c.do(ctx, http.MethodPost, orderPath(orderID)+"/cancel", nil, &o)
	return o, err
}

// ConfirmPayment forwards the gateway redirect parameters to the server.
func (c *Client) ConfirmPayment(ctx context.Context, paymentKey, orderID string, amount decimal.Decimal) (Confirmation, error) {
	var res Confirmation
	err := c.do(ctx, http.MethodPost, "/api/payments/toss/confirm", map[string]any{
		"paymentKey": paymentKey, "orderId": orderID, "amount": amount,
	}, &res)
	return res, err
}

// ----- waiting rooms -----

// CreateRoomRequest opens a waiting room for a paid order. OpenDate and
// the fallback location are optional.
type CreateRoomRequest struct {
	OrderID     string     `json:"orderId"`
	CapsuleName string     `json:"capsuleName"`
	OpenDate    *time.Time `json:"openDate,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
}

// JoinResult reports a join. AlreadyMember is set instead of an error
// when the caller had joined before.
type JoinResult struct {
	Success       bool   `json:"success"`
	WaitingRoomID uint64 `json:"waiting_room_id"`
	SlotNumber    int    `json:"slot_number"`
	AlreadyMember bool   `json:"-"`
}

// ContentRequest is one participant's contribution.
type ContentRequest struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
	Music  string   `json:"music,omitempty"`
	Video  string   `json:"video,omitempty"`
}

// SubmitResult is returned when a room is buried.
type SubmitResult struct {
	WaitingRoomID   uint64 `json:"waiting_room_id"`
	CapsuleID       uint64 `json:"capsule_id"`
	Status          string `json:"status"`
	IsAutoSubmitted bool   `json:"is_auto_submitted"`
}

func roomPath(id uint64) string { return "/api/capsules/step-rooms/" + strconv.FormatUint(id, 10) }

func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (model.WaitingRoom, error) {
	var r model.WaitingRoom
	err := c.do(ctx, http.MethodPost, "/api/capsules/step-rooms/create", req, &r)
	return r, err
}

// GetWaitingRoom is served from the cache while fresh.
func (c *Client) GetWaitingRoom(ctx context.Context, roomID uint64) (model.WaitingRoom, error) {
	key := WaitingRoomKey(roomID)
	if v, ok := c.cache.Get(key); ok {
		return v.(model.WaitingRoom), nil
	}
	var r model.WaitingRoom
	if err := c.query(ctx, roomPath(roomID), &r); err != nil {
		return model.WaitingRoom{}, err
	}
	c.cache.Set(key, r)
	return r, nil
}

func (c *Client) GetWaitingRoomSettings(ctx context.Context, roomID uint64) (model.RoomSettings, error) {
	key := SettingsKey(roomID)
	if v, ok := c.cache.Get(key); ok {
		return v.(model.RoomSettings), nil
	}
	var s model.RoomSettings
	if err := c.query(ctx, roomPath(roomID)+"/settings", &s); err != nil {
		return model.RoomSettings{}, err
	}
	c.cache.Set(key, s)
	return s, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID uint64, inviteCode string) (JoinResult, error) {
	var res JoinResult
	err := c.do(ctx, http.MethodPost, roomPath(roomID)+"/join", map[string]string{"inviteCode": inviteCode}, &res)
	if HasCode(err, "ALREADY_JOINED") {
		return JoinResult{Success: true, WaitingRoomID: roomID, AlreadyMember: true}, nil
	}
	if err != nil {
		return JoinResult{}, err
	}
	c.cache.Invalidate(WaitingRoomKey(roomID))
	return res, nil
}

// GetMyContent returns nil when the caller has not written yet.
func (c *Client) GetMyContent(ctx context.Context, roomID uint64) (*model.Content, error) {
	var content model.Content
	err := c.do(ctx, http.MethodGet, roomPath(roomID)+"/my-content", nil, &content)
	if ae, ok := AsAPIError(err); ok && ae.Status == http.StatusNotFound && ae.Code != "ROOM_NOT_FOUND" {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &content, nil
}

func (c *Client) CreateMyContent(ctx context.Context, roomID uint64, req ContentRequest) (model.Content, error) {
	return c.saveContent(ctx, http.MethodPost, roomID, req)
}

func (c *Client) UpdateMyContent(ctx context.Context, roomID uint64, req ContentRequest) (model.Content, error) {
	return c.saveContent(ctx, http.MethodPatch, roomID, req)
}

func (c *Client) saveContent(ctx context.Context, method string, roomID uint64, req ContentRequest) (model.Content, error) {
	var saved model.Content
	if err := c.do(ctx, method, roomPath(roomID)+"/my-content", req, &saved); err != nil {
		return model.Content{}, err
	}
	c.cache.Invalidate(WaitingRoomKey(roomID))
	return saved, nil
}

func (c *Client) SubmitRoom(ctx context.Context, roomID uint64, lat, lng float64) (SubmitResult, error) {
	var res SubmitResult
	err := c.do(ctx, http.MethodPost, roomPath(roomID)+"/submit", map[string]float64{"latitude": lat, "longitude": lng}, &res)
	return res, err
}

// ----- capsules -----

// EggRequest buries an easter egg at the given point.
type EggRequest struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	MediaURLs []string `json:"media_urls,omitempty"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	ViewLimit int      `json:"view_limit,omitempty"`
}

type capsuleList struct {
	Capsules []model.Capsule `json:"capsules"`
}

func (c *Client) CreateEgg(ctx context.Context, req EggRequest) (model.Capsule, error) {
	var egg model.Capsule
	err := c.do(ctx, http.MethodPost, "/api/capsules", req, &egg)
	return egg, err
}

// Nearby lists capsules around a point. A radius of 0 uses the server
// default.
func (c *Client) Nearby(ctx context.Context, lat, lng, radius float64) ([]model.Capsule, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	if radius > 0 {
		q.Set("radius", strconv.FormatFloat(radius, 'f', -1, 64))
	}
	var list capsuleList
	err := c.do(ctx, http.MethodGet, "/api/capsules?"+q.Encode(), nil, &list)
	return list.Capsules, err
}

// ViewCapsule records a discovery from the caller's position and returns
// the full capsule.
func (c *Client) ViewCapsule(ctx context.Context, capsuleID uint64, lat, lng float64) (model.Capsule, error) {
	var egg model.Capsule
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/capsules/%d/view", capsuleID),
		map[string]float64{"latitude": lat, "longitude": lng}, &egg)
	return egg, err
}

func (c *Client) Slots(ctx context.Context) (model.SlotUsage, error) {
	var s model.SlotUsage
	err := c.do(ctx, http.MethodGet, "/api/capsules/slots", nil, &s)
	return s, err
}

func (c *Client) ResetSlots(ctx context.Context) (model.SlotUsage, error) {
	var s model.SlotUsage
	err := c.do(ctx, http.MethodPost, "/api/capsules/slots/reset", nil, &s)
	return s, err
}

// MyEggs lists the caller's capsules; capsuleType may be empty.
func (c *Client) MyEggs(ctx context.Context, capsuleType string) ([]model.Capsule, error) {
	path := "/api/capsules/my-eggs"
	if capsuleType != "" {
		path += "?type=" + url.QueryEscape(capsuleType)
	}
	var list capsuleList
	err := c.do(ctx, http.MethodGet, path, nil, &list)
	return list.Capsules, err
}

// ----- support -----

// NoticePage is one page of notices.
type NoticePage struct {
	Items []model.Notice `json:"items"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
	Total int            `json:"total"`
}

func (c *Client) Notices(ctx context.Context, page, size int) (NoticePage, error) {
	var p NoticePage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/notices?page=%d&size=%d", page, size), nil, &p)
	return p, err
}

func (c *Client) Notice(ctx context.Context, id uint64) (model.Notice, error) {
	var n model.Notice
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/notices/%d", id), nil, &n)
	return n, err
}

func (c *Client) Inquiries(ctx context.Context) ([]model.Inquiry, error) {
	var resp struct {
		Inquiries []model.Inquiry `json:"inquiries"`
	}
	err := c.do(ctx, http.MethodGet, "/api/me/inquiries", nil, &resp)
	return resp.Inquiries, err
}

func (c *Client) OpenInquiry(ctx context.Context, title, category, content string) (model.Inquiry, error) {
	var inq model.Inquiry
	err := c.do(ctx, http.MethodPost, "/api/me/inquiries", map[string]string{
		"title": title, "category": category, "content": content,
	}, &inq)
	return inq, err
}

// Messages returns the history of an inquiry, optionally after a message id.
func (c *Client) Messages(ctx context.Context, inquiryID uint64, after string) ([]model.ChatMessage, error) {
	path := fmt.Sprintf("/api/me/inquiries/%d/messages", inquiryID)
	if after != "" {
		path += "?after=" + url.QueryEscape(after)
	}
	var resp struct {
		Messages []model.ChatMessage `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Messages, err
}

// ----- media -----

// UploadMedia sends one file as multipart form data.
func (c *Client) UploadMedia(ctx context.Context, kind media.Kind, filename string, r io.Reader) (media.Stored, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("kind", string(kind)); err != nil {
		return media.Stored{}, err
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return media.Stored{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return media.Stored{}, err
	}
	if err := w.Close(); err != nil {
		return media.Stored{}, err
	}
	var stored media.Stored
	err = c.send(ctx, call{method: http.MethodPost, path: "/api/media/upload",
		body: buf.Bytes(), contentType: w.FormDataContentType(), out: &stored})
	return stored, err
}
