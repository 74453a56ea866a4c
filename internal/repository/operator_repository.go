package repository

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/escalation-service/internal/domain"
)

// ErrDuplicateOperator is returned when an operator email is already taken.
var ErrDuplicateOperator = errors.New("operator email already registered")

// OperatorRepository handles persistence for dashboard operators.
type OperatorRepository interface {
	Create(ctx context.Context, op *domain.Operator) error
	Update(ctx context.Context, op *domain.Operator) error
	GetByID(ctx context.Context, id string) (*domain.Operator, error)
	GetByEmail(ctx context.Context, email string) (*domain.Operator, error)
	List(ctx context.Context, filter OperatorFilter) ([]domain.Operator, error)
}

// OperatorFilter defines query params for operator listing.
type OperatorFilter struct {
	OrganizationID string
	Role           *domain.OperatorRole
	Active         *bool
	Limit          int
	Offset         int
}

type operatorRepository struct {
	pool *pgxpool.Pool
	psql sq.StatementBuilderType
}

// NewOperatorRepository instantiates the repository.
func NewOperatorRepository(pool *pgxpool.Pool) OperatorRepository {
	return &operatorRepository{pool: pool, psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

const operatorSelect = `
        SELECT id, organization_id, name, email, password_hash, role, active_flag, created_at, updated_at
        FROM operators`

func (r *operatorRepository) Create(ctx context.Context, op *domain.Operator) error {
	const query = `
        INSERT INTO operators (organization_id, name, email, password_hash, role, active_flag)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		op.OrganizationID,
		op.Name,
		op.Email,
		op.PasswordHash,
		string(op.Role),
		op.Active,
	).Scan(&op.ID, &op.CreatedAt, &op.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateOperator
	}
	return err
}

func (r *operatorRepository) Update(ctx context.Context, op *domain.Operator) error {
	const query = `
        UPDATE operators
        SET name=$1, email=$2, password_hash=$3, role=$4, active_flag=$5, updated_at=NOW()
        WHERE id=$6
        RETURNING updated_at`

	err := r.pool.QueryRow(ctx, query,
		op.Name,
		op.Email,
		op.PasswordHash,
		string(op.Role),
		op.Active,
		op.ID,
	).Scan(&op.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func (r *operatorRepository) GetByID(ctx context.Context, id string) (*domain.Operator, error) {
	return scanOperator(r.pool.QueryRow(ctx, operatorSelect+" WHERE id=$1", id))
}

func (r *operatorRepository) GetByEmail(ctx context.Context, email string) (*domain.Operator, error) {
	return scanOperator(r.pool.QueryRow(ctx, operatorSelect+" WHERE lower(email)=lower($1)", email))
}

func (r *operatorRepository) List(ctx context.Context, filter OperatorFilter) ([]domain.Operator, error) {
	builder := r.psql.
		Select("id", "organization_id", "name", "email", "password_hash", "role", "active_flag", "created_at", "updated_at").
		From("operators").
		Where(sq.Eq{"organization_id": filter.OrganizationID})
	if filter.Role != nil {
		builder = builder.Where(sq.Eq{"role": string(*filter.Role)})
	}
	if filter.Active != nil {
		builder = builder.Where(sq.Eq{"active_flag": *filter.Active})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query, args, err := builder.OrderBy("created_at DESC").Limit(uint64(limit)).Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *op)
	}
	return result, rows.Err()
}

func scanOperator(row pgx.Row) (*domain.Operator, error) {
	var (
		op   domain.Operator
		role string
	)
	if err := row.Scan(
		&op.ID,
		&op.OrganizationID,
		&op.Name,
		&op.Email,
		&op.PasswordHash,
		&role,
		&op.Active,
		&op.CreatedAt,
		&op.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	op.Role = domain.OperatorRole(role)
	return &op, nil
}
