package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"

	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/repository"
)

const (
	maxMessage  = 2000
	maxPageSize = 50
	messagePage = 100
)

// SupportService serves notices and customer-support inquiries, including
// the persistence side of the support chat.
type SupportService struct {
	notices   *repository.NoticeRepo
	inquiries *repository.InquiryRepo
	clock     clockwork.Clock
}

func NewSupportService(notices *repository.NoticeRepo, inquiries *repository.InquiryRepo, clk clockwork.Clock) *SupportService {
	return &SupportService{notices: notices, inquiries: inquiries, clock: clk}
}

// NoticePage is one page of GET /notices.
type NoticePage struct {
	Items []model.Notice `json:"items"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
	Total int            `json:"total"`
}

func (s *SupportService) Notices(ctx context.Context, page, size int) (NoticePage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = 20
	}
	items, total, err := s.notices.List(ctx, page, size)
	if err != nil {
		return NoticePage{}, fmt.Errorf("list notices: %w", err)
	}
	return NoticePage{Items: items, Page: page, Size: size, Total: total}, nil
}

func (s *SupportService) Notice(ctx context.Context, id uint64) (model.Notice, error) {
	n, err := s.notices.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return n, ErrNoticeNotFound
	}
	if err != nil {
		return n, fmt.Errorf("load notice: %w", err)
	}
	return n, nil
}

// PublishNotice is the admin path for announcements.
func (s *SupportService) PublishNotice(ctx context.Context, title, content string, pinned bool) (model.Notice, error) {
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if title == "" || content == "" {
		return model.Notice{}, withMessage(ErrInvalidRequest, "title and content are required")
	}
	n := model.Notice{Title: title, Content: content, IsPinned: pinned, CreatedAt: s.clock.Now().UTC().Truncate(time.Second)}
	if err := s.notices.Create(ctx, &n); err != nil {
		return model.Notice{}, fmt.Errorf("create notice: %w", err)
	}
	return n, nil
}

func (s *SupportService) Inquiries(ctx context.Context, userID uint64) ([]model.Inquiry, error) {
	list, err := s.inquiries.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list inquiries: %w", err)
	}
	return list, nil
}

// OpenInquiry starts a support thread. A non-empty first message is posted
// into its chat.
func (s *SupportService) OpenInquiry(ctx context.Context, userID uint64, title, category, first string) (model.Inquiry, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > 200 {
		return model.Inquiry{}, withMessage(ErrInvalidRequest, "title must be 1-200 characters")
	}
	category = strings.ToUpper(strings.TrimSpace(category))
	if category == "" {
		category = "GENERAL"
	}
	now := s.clock.Now().UTC().Truncate(time.Second)
	q := model.Inquiry{UserID: userID, Title: title, Category: category, Status: model.InquiryOpen, CreatedAt: now, UpdatedAt: now}
	if err := s.inquiries.Create(ctx, &q); err != nil {
		return model.Inquiry{}, fmt.Errorf("create inquiry: %w", err)
	}
	if strings.TrimSpace(first) != "" {
		if _, err := s.PostMessage(ctx, q.ID, userID, model.RoleUser, first); err != nil {
			return q, err
		}
	}
	return q, nil
}

// Authorize loads an inquiry the caller may read: its author or an admin.
func (s *SupportService) Authorize(ctx context.Context, inquiryID, userID uint64, role string) (model.Inquiry, error) {
	q, err := s.inquiries.GetByID(ctx, inquiryID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && q.UserID != userID && role != model.RoleAdmin) {
		return model.Inquiry{}, ErrInquiryNotFound
	}
	if err != nil {
		return model.Inquiry{}, fmt.Errorf("load inquiry: %w", err)
	}
	return q, nil
}

// Messages returns the thread after the given message ID.
func (s *SupportService) Messages(ctx context.Context, inquiryID, userID uint64, role, after string) ([]model.ChatMessage, error) {
	if _, err := s.Authorize(ctx, inquiryID, userID, role); err != nil {
		return nil, err
	}
	msgs, err := s.inquiries.Messages(ctx, inquiryID, after, messagePage)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// PostMessage persists a chat line and moves the inquiry to ANSWERED when
// staff reply, or back to OPEN when the customer writes.
func (s *SupportService) PostMessage(ctx context.Context, inquiryID, senderID uint64, role, content string) (model.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxMessage {
		return model.ChatMessage{}, withMessage(ErrInvalidRequest, "message must be 1-%d characters", maxMessage)
	}
	q, err := s.Authorize(ctx, inquiryID, senderID, role)
	if err != nil {
		return model.ChatMessage{}, err
	}
	if q.Status == model.InquiryClosed {
		return model.ChatMessage{}, ErrInquiryClosed
	}
	now := s.clock.Now().UTC()
	m := model.ChatMessage{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		InquiryID:  inquiryID,
		SenderID:   senderID,
		SenderRole: role,
		Content:    content,
		CreatedAt:  now.Truncate(time.Second),
	}
	if err := s.inquiries.AddMessage(ctx, m); err != nil {
		return model.ChatMessage{}, fmt.Errorf("save message: %w", err)
	}
	next := model.InquiryOpen
	if role == model.RoleAdmin {
		next = model.InquiryAnswered
	}
	if next != q.Status {
		if err := s.inquiries.SetStatus(ctx, inquiryID, next, now); err != nil {
			return m, fmt.Errorf("update inquiry: %w", err)
		}
	}
	return m, nil
}

// MarkRead flags the other side's messages as read by readerID.
func (s *SupportService) MarkRead(ctx context.Context, inquiryID, readerID uint64, role string) (int64, error) {
	if _, err := s.Authorize(ctx, inquiryID, readerID, role); err != nil {
		return 0, err
	}
	n, err := s.inquiries.MarkRead(ctx, inquiryID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// CloseInquiry ends a thread; no further messages are accepted.
func (s *SupportService) CloseInquiry(ctx context.Context, inquiryID, userID uint64, role string) error {
	if _, err := s.Authorize(ctx, inquiryID, userID, role); err != nil {
		return err
	}
	return s.inquiries.SetStatus(ctx, inquiryID, model.InquiryClosed, s.clock.Now())
}
