package memory_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dublintech/callbridge/internal/customer/domain"
	"github.com/dublintech/callbridge/internal/customer/repository/memory"
)

func TestRepository_GetByPhone(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewRepository(nil, logger)

	c, err := repo.GetByPhone(context.Background(), "+353851234567")
	require.NoError(t, err)
	assert.Equal(t, "Dublin Tech Solutions Ltd", c.Name)
	assert.Equal(t, "ACC-001", c.AccountID)

	_, err = repo.GetByPhone(context.Background(), "+000")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRepository_GetAllReturnsCopy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewRepository(nil, logger)

	all, err := repo.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 5)

	all[0].Name = "mutated"
	again, err := repo.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Dublin Tech Solutions Ltd", again[0].Name)
}

func TestRepository_CreateNotImplemented(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewRepository(nil, logger)

	_, err := repo.Create(context.Background(), domain.Customer{Name: "x", Phone: "+1"})
	assert.True(t, errors.Is(err, domain.ErrNotImplemented))
}
