package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dublintech/callbridge/internal/customer/domain"
)

// Repository is a seeded in-memory customer store used when no database is
// configured. Reads only; Create returns domain.ErrNotImplemented.
type Repository struct {
	logger *slog.Logger

	mu        sync.RWMutex
	customers []domain.Customer
}

// SeedCustomers returns the demo dataset served by default.
func SeedCustomers() []domain.Customer {
	return []domain.Customer{
		{
			ID:        "1",
			Name:      "Dublin Tech Solutions Ltd",
			Phone:     "+353851234567",
			Email:     "contact@dublintech.ie",
			AccountID: "ACC-001",
			Notes:     "VIP client, priority support required",
		},
		{
			ID:    "2",
			Name:  "Liam O'Connor",
			Phone: "+353861234567",
			Email: "liam.oconnor@gmail.com",
			Notes: "Regular customer since 2020",
		},
		{
			ID:        "3",
			Name:      "Aoife Murphy",
			Phone:     "+353871234567",
			Email:     "aoife.murphy@example.ie",
			AccountID: "ACC-002",
			Notes:     "New client from Cork",
		},
		{
			ID:        "4",
			Name:      "Trinity College Dublin",
			Phone:     "+35318961000",
			Email:     "procurement@tcd.ie",
			AccountID: "ACC-003",
			Notes:     "Educational institution, bulk services",
		},
		{
			ID:        "5",
			Name:      "Guinness Storehouse",
			Phone:     "+353014084800",
			Email:     "info@guinness-storehouse.com",
			AccountID: "ACC-004",
			Notes:     "Tourism sector client",
		},
	}
}

// NewRepository builds a repository over the given records; nil seeds with
// the demo dataset.
func NewRepository(seed []domain.Customer, logger *slog.Logger) *Repository {
	if seed == nil {
		seed = SeedCustomers()
	}
	return &Repository{
		logger:    logger.With("component", "customer_repository_memory"),
		customers: seed,
	}
}

func (r *Repository) GetByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.customers {
		if r.customers[i].Phone == phone {
			c := r.customers[i]
			return &c, nil
		}
	}
	r.logger.DebugContext(ctx, "customer not found", "phone", phone)
	return nil, domain.ErrNotFound
}

func (r *Repository) GetAll(ctx context.Context) ([]domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Customer, len(r.customers))
	copy(out, r.customers)
	return out, nil
}

func (r *Repository) Create(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	return nil, domain.ErrNotImplemented
}
