package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/dublintech/callbridge/internal/customer/domain"
)

// Querier is the subset of pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgCustomerRepository struct {
	db     Querier
	logger *slog.Logger
}

func NewPgCustomerRepository(db Querier, logger *slog.Logger) *PgCustomerRepository {
	return &PgCustomerRepository{db: db, logger: logger.With("component", "customer_repository_pg")}
}

const customerColumns = `id, name, phone, email, account_id, notes`

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var c domain.Customer
	var email, accountID, notes sql.NullString

	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &email, &accountID, &notes); err != nil {
		return nil, err
	}
	c.Email = email.String
	c.AccountID = accountID.String
	c.Notes = notes.String
	return &c, nil
}

func (r *PgCustomerRepository) GetByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE phone = $1 LIMIT 1`

	c, err := scanCustomer(r.db.QueryRow(ctx, query, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.DebugContext(ctx, "customer not found", "phone", phone)
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "querying customer by phone", "phone", phone, "error", err)
		return nil, fmt.Errorf("querying customer by phone: %w", err)
	}
	return c, nil
}

func (r *PgCustomerRepository) GetAll(ctx context.Context) ([]domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.ErrorContext(ctx, "listing customers", "error", err)
		return nil, fmt.Errorf("listing customers: %w", err)
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning customer row: %w", err)
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating customer rows: %w", err)
	}
	return customers, nil
}

// Create is intentionally unsupported; the schema exists but writes go
// through a separate provisioning process.
func (r *PgCustomerRepository) Create(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	return nil, domain.ErrNotImplemented
}
