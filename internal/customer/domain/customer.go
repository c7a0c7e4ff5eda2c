package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the phone number matched no customer. A valid
	// outcome, not a failure.
	ErrNotFound = errors.New("customer not found")

	// ErrNotImplemented marks operations the backing store intentionally
	// does not support yet.
	ErrNotImplemented = errors.New("operation not implemented")
)

// Customer is a known-party record used to enrich an incoming call
// notification. Read-only from the notification pipeline's perspective.
type Customer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Repository is the keyed lookup port over the customer store.
type Repository interface {
	GetByPhone(ctx context.Context, phone string) (*Customer, error)
	GetAll(ctx context.Context) ([]Customer, error)
	// Create exists at the interface level but returns ErrNotImplemented
	// in every current backing store.
	Create(ctx context.Context, c Customer) (*Customer, error)
}
