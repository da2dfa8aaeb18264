package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInquiryRepo_MarkRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewInquiryRepo(db)

	mock.ExpectExec("UPDATE chat_messages SET is_read = 1").
		WithArgs(uint64(8), uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.MarkRead(context.Background(), 8, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestInquiryRepo_SetStatusMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewInquiryRepo(db)

	mock.ExpectExec("UPDATE inquiries SET status").WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.SetStatus(context.Background(), 1, "CLOSED", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}
