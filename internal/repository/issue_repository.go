package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/escalation-service/internal/domain"
)

const uniqueViolation = "23505"

// IssueFilter captures operator dashboard search parameters.
type IssueFilter struct {
	OrganizationID string
	SiteID         *string
	Statuses       []domain.IssueStatus
	Limit          int
	Offset         int
}

// IssueRepository persists issues together with their audit events.
//
// Create and Update commit the issue row and its event atomically. Update only
// applies when the stored version equals expectedVersion, otherwise it returns
// domain.ErrStaleIssue and writes nothing.
type IssueRepository interface {
	Create(ctx context.Context, issue *domain.Issue, created domain.Event) error
	Update(ctx context.Context, issue *domain.Issue, event domain.Event, expectedVersion int) error
	AppendEvent(ctx context.Context, event domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Issue, error)
	GetByToken(ctx context.Context, token string) (*domain.Issue, error)
	FindOpen(ctx context.Context, siteID, checkID string) (*domain.Issue, error)
	ListEvents(ctx context.Context, issueID string) ([]domain.Event, error)
	List(ctx context.Context, filter IssueFilter) ([]domain.Issue, error)
	// ListDue returns non-terminal issues whose current level was notified at or before cutoff.
	ListDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.Issue, error)
	// ListUndelivered returns issues with a pending notification stamped at or before cutoff.
	ListUndelivered(ctx context.Context, cutoff time.Time, limit int) ([]domain.Issue, error)
	MarkLevelDelivered(ctx context.Context, issueID string, level int, at time.Time) error
	MarkFinalNoticeDelivered(ctx context.Context, issueID string, at time.Time) error
}

type issueRepository struct {
	pool *pgxpool.Pool
	psql sq.StatementBuilderType
}

// NewIssueRepository instantiates the Postgres-backed repository.
func NewIssueRepository(pool *pgxpool.Pool) IssueRepository {
	return &issueRepository{pool: pool, psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

var issueColumns = []string{
	"id", "token", "organization_id", "site_id", "check_id", "check_result_id", "status",
	"current_level", "max_level",
	"level1_name", "level1_email", "level1_notified_at", "level1_delivered_at",
	"level2_name", "level2_email", "level2_notified_at", "level2_delivered_at",
	"level3_name", "level3_email", "level3_notified_at", "level3_delivered_at",
	"resolved_by_name", "resolved_by_email", "resolved_at", "final_notice_delivered_at",
	"version", "created_at", "updated_at",
}

const currentNotifiedAt = `CASE current_level WHEN 1 THEN level1_notified_at WHEN 2 THEN level2_notified_at ELSE level3_notified_at END`
const currentDeliveredAt = `CASE current_level WHEN 1 THEN level1_delivered_at WHEN 2 THEN level2_delivered_at ELSE level3_delivered_at END`

func (r *issueRepository) Create(ctx context.Context, issue *domain.Issue, created domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	args := []any{
		issue.ID, issue.Token, issue.OrganizationID, issue.SiteID, issue.CheckID, issue.CheckResultID,
		string(issue.Status), issue.CurrentLevel, issue.MaxLevel,
	}
	args = append(args, contactArgs(issue)...)
	args = append(args,
		issue.ResolvedByName, issue.ResolvedByEmail, issue.ResolvedAt, issue.FinalNoticeDeliveredAt,
		issue.Version, issue.CreatedAt, issue.UpdatedAt,
	)
	query, _, err := r.psql.Insert("escalation_issues").Columns(issueColumns...).Values(args...).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyOpen
		}
		return fmt.Errorf("insert issue: %w", err)
	}
	if err := insertEvent(ctx, tx, created); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *issueRepository) Update(ctx context.Context, issue *domain.Issue, event domain.Event, expectedVersion int) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Delivery stamps are owned by MarkLevelDelivered and MarkFinalNoticeDelivered.
	const query = `
        UPDATE escalation_issues SET
            status=$1, current_level=$2,
            level1_notified_at=$3, level2_notified_at=$4, level3_notified_at=$5,
            resolved_by_name=$6, resolved_by_email=$7, resolved_at=$8,
            version=version+1, updated_at=$9
        WHERE id=$10 AND version=$11`
	args := []any{string(issue.Status), issue.CurrentLevel}
	for level := 1; level <= domain.MaxLevels; level++ {
		var notified *time.Time
		if c := issue.Contacts[level-1]; c != nil {
			notified = c.NotifiedAt
		}
		args = append(args, notified)
	}
	args = append(args,
		issue.ResolvedByName, issue.ResolvedByEmail, issue.ResolvedAt,
		issue.UpdatedAt, issue.ID, expectedVersion,
	)
	cmd, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrStaleIssue
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	issue.Version = expectedVersion + 1
	return nil
}

func (r *issueRepository) AppendEvent(ctx context.Context, event domain.Event) error {
	return insertEvent(ctx, r.pool, event)
}

// GetByID treats an id that is not a UUID as unknown; the column rejects it otherwise.
func (r *issueRepository) GetByID(ctx context.Context, id string) (*domain.Issue, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	return r.fetchSingle(ctx, sq.Eq{"id": id})
}

func (r *issueRepository) GetByToken(ctx context.Context, token string) (*domain.Issue, error) {
	return r.fetchSingle(ctx, sq.Eq{"token": token})
}

func (r *issueRepository) FindOpen(ctx context.Context, siteID, checkID string) (*domain.Issue, error) {
	return r.fetchSingle(ctx, sq.And{
		sq.Eq{"site_id": siteID, "check_id": checkID},
		sq.Eq{"status": statusStrings(domain.NonTerminalStatuses())},
	})
}

func (r *issueRepository) fetchSingle(ctx context.Context, where sq.Sqlizer) (*domain.Issue, error) {
	query, args, err := r.psql.Select(issueColumns...).From("escalation_issues").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	issue, err := scanIssue(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return issue, err
}

func (r *issueRepository) ListEvents(ctx context.Context, issueID string) ([]domain.Event, error) {
	const query = `
        SELECT id, escalation_issue_id, event_type, level, user_name, user_email, message, created_at
        FROM escalation_events WHERE escalation_issue_id=$1
        ORDER BY created_at DESC, id DESC`
	rows, err := r.pool.Query(ctx, query, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		var (
			ev        domain.Event
			eventType string
			level     *int16
		)
		if err := rows.Scan(&ev.ID, &ev.IssueID, &eventType, &level, &ev.UserName, &ev.UserEmail, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(eventType)
		if level != nil {
			l := int(*level)
			ev.Level = &l
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (r *issueRepository) List(ctx context.Context, filter IssueFilter) ([]domain.Issue, error) {
	builder := r.psql.Select(issueColumns...).From("escalation_issues").
		Where(sq.Eq{"organization_id": filter.OrganizationID})
	if filter.SiteID != nil {
		builder = builder.Where(sq.Eq{"site_id": *filter.SiteID})
	}
	if len(filter.Statuses) > 0 {
		builder = builder.Where(sq.Eq{"status": statusStrings(filter.Statuses)})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder = builder.OrderBy("updated_at DESC", "id").Limit(uint64(limit)).Offset(uint64(offset))
	return r.query(ctx, builder)
}

func (r *issueRepository) ListDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.Issue, error) {
	builder := r.psql.Select(issueColumns...).From("escalation_issues").
		Where(sq.Eq{"status": statusStrings(domain.NonTerminalStatuses())}).
		Where(sq.Expr(currentNotifiedAt+" <= ?", cutoff)).
		OrderBy(currentNotifiedAt + " ASC").
		Limit(uint64(batchLimit(limit)))
	return r.query(ctx, builder)
}

func (r *issueRepository) ListUndelivered(ctx context.Context, cutoff time.Time, limit int) ([]domain.Issue, error) {
	pendingLevel := sq.And{
		sq.Eq{"status": statusStrings(domain.NonTerminalStatuses())},
		sq.Expr(currentDeliveredAt + " IS NULL"),
		sq.Expr(currentNotifiedAt+" <= ?", cutoff),
	}
	pendingFinal := sq.And{
		sq.Eq{"status": string(domain.IssueStatusExhausted)},
		sq.Eq{"final_notice_delivered_at": nil},
		sq.LtOrEq{"updated_at": cutoff},
	}
	builder := r.psql.Select(issueColumns...).From("escalation_issues").
		Where(sq.Or{pendingLevel, pendingFinal}).
		OrderBy("updated_at ASC").
		Limit(uint64(batchLimit(limit)))
	return r.query(ctx, builder)
}

func (r *issueRepository) MarkLevelDelivered(ctx context.Context, issueID string, level int, at time.Time) error {
	if level < 1 || level > domain.MaxLevels {
		return fmt.Errorf("invalid level %d", level)
	}
	column := fmt.Sprintf("level%d_delivered_at", level)
	query, args, err := r.psql.Update("escalation_issues").
		Set(column, at).
		Where(sq.Eq{"id": issueID}).
		Where(sq.Eq{column: nil}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query, args...)
	return err
}

func (r *issueRepository) MarkFinalNoticeDelivered(ctx context.Context, issueID string, at time.Time) error {
	const query = `
        UPDATE escalation_issues SET final_notice_delivered_at=$1
        WHERE id=$2 AND final_notice_delivered_at IS NULL`
	_, err := r.pool.Exec(ctx, query, at, issueID)
	return err
}

func (r *issueRepository) query(ctx context.Context, builder sq.SelectBuilder) ([]domain.Issue, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *issue)
	}
	return result, rows.Err()
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertEvent(ctx context.Context, db execer, ev domain.Event) error {
	const query = `
        INSERT INTO escalation_events (id, escalation_issue_id, event_type, level, user_name, user_email, message, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := db.Exec(ctx, query,
		ev.ID, ev.IssueID, string(ev.Type), ev.Level, ev.UserName, ev.UserEmail, ev.Message, ev.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func contactArgs(issue *domain.Issue) []any {
	args := make([]any, 0, 4*domain.MaxLevels)
	for _, c := range issue.Contacts {
		if c == nil {
			args = append(args, nil, nil, nil, nil)
			continue
		}
		args = append(args, nullable(c.Name), nullable(c.Email), c.NotifiedAt, c.DeliveredAt)
	}
	return args
}

func scanIssue(row pgx.Row) (*domain.Issue, error) {
	var (
		issue        domain.Issue
		status       string
		currentLevel int16
		maxLevel     int16
		names        [domain.MaxLevels]*string
		emails       [domain.MaxLevels]*string
		notified     [domain.MaxLevels]*time.Time
		delivered    [domain.MaxLevels]*time.Time
	)
	if err := row.Scan(
		&issue.ID, &issue.Token, &issue.OrganizationID, &issue.SiteID, &issue.CheckID, &issue.CheckResultID, &status,
		&currentLevel, &maxLevel,
		&names[0], &emails[0], &notified[0], &delivered[0],
		&names[1], &emails[1], &notified[1], &delivered[1],
		&names[2], &emails[2], &notified[2], &delivered[2],
		&issue.ResolvedByName, &issue.ResolvedByEmail, &issue.ResolvedAt, &issue.FinalNoticeDeliveredAt,
		&issue.Version, &issue.CreatedAt, &issue.UpdatedAt,
	); err != nil {
		return nil, err
	}
	issue.Status = domain.IssueStatus(status)
	issue.CurrentLevel = int(currentLevel)
	issue.MaxLevel = int(maxLevel)
	for i := 0; i < domain.MaxLevels; i++ {
		if emails[i] == nil {
			continue
		}
		c := &domain.LevelContact{Email: *emails[i], NotifiedAt: notified[i], DeliveredAt: delivered[i]}
		if names[i] != nil {
			c.Name = *names[i]
		}
		issue.Contacts[i] = c
	}
	return &issue, nil
}

func statusStrings(statuses []domain.IssueStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func batchLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
