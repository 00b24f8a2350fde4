package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loanflow/scoring"
)

var (
	// ErrNotFound signals the requested application does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrNotProcessing signals a decision write against an application that
	// already left the processing state.
	ErrNotProcessing = errors.New("application: not in processing state")
)

// Repository defines the data access required by the service and pipeline.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, app Application) (Application, error)
	GetByID(ctx context.Context, id string) (Application, error)
	List(ctx context.Context, filters Filters) ([]Application, int, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Application, error)
	FinalizeDecision(ctx context.Context, tx pgx.Tx, params FinalizeParams) (Application, error)
	ApplyOverride(ctx context.Context, tx pgx.Tx, params OverrideWrite) (Application, error)
}

// OverrideWrite enumerates the fields stamped by a decision override.
type OverrideWrite struct {
	ApplicationID string
	NewDecision   scoring.Decision
	ActorID       string
	Reason        string
	At            time.Time
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed application repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const appColumns = `id, applicant_user_id, full_name, email, employer_name, employment_status::text,
	employment_duration::text, annual_income_cents, monthly_debt_cents, loan_amount_cents,
	status::text, risk_tier, credit_score, final_decision, explanation,
	overridden_by, override_reason, overridden_at, created_at, updated_at`

// Create inserts a new application within tx. Status is fixed at processing on
// creation, before the pipeline even starts.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, app Application) (Application, error) {
	const query = `
		INSERT INTO applications (id, applicant_user_id, full_name, email, employer_name,
			employment_status, employment_duration, annual_income_cents, monthly_debt_cents,
			loan_amount_cents, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, 'processing')
		RETURNING ` + appColumns

	row := tx.QueryRow(ctx, query,
		app.ID,
		app.ApplicantUserID,
		app.FullName,
		app.Email,
		app.EmployerName,
		app.Employment,
		app.Duration,
		app.AnnualIncomeCents,
		app.MonthlyDebtCents,
		app.LoanAmountCents,
	)

	created, err := scanApplication(row)
	if err != nil {
		return Application{}, fmt.Errorf("application: create: %w", err)
	}
	return created, nil
}

// GetByID fetches one application by primary key.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Application, error) {
	query := `SELECT ` + appColumns + ` FROM applications WHERE id = $1`

	app, err := scanApplication(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("application: get by id: %w", err)
	}
	return app, nil
}

// List returns a page of applications plus the unpaged total.
func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Application, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}
	if filters.ApplicantUserID != "" {
		where = append(where, fmt.Sprintf("applicant_user_id=$%d", len(args)+1))
		args = append(args, filters.ApplicantUserID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM applications%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		appColumns, whereClause, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("application: list: %w", err)
	}
	defer rows.Close()

	list := []Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("application: scan: %w", err)
		}
		list = append(list, app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("application: iterate: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM applications" + whereClause
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("application: count: %w", err)
	}

	return list, total, nil
}

// GetForUpdate locks one application row for the duration of tx.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Application, error) {
	query := `SELECT ` + appColumns + ` FROM applications WHERE id = $1 FOR UPDATE`

	app, err := scanApplication(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("application: get for update: %w", err)
	}
	return app, nil
}

// FinalizeDecision writes every decision field in a single UPDATE, guarded so
// only a still-processing application can be decided.
func (r *PGRepository) FinalizeDecision(ctx context.Context, tx pgx.Tx, params FinalizeParams) (Application, error) {
	const query = `
		UPDATE applications
		SET status = $2,
		    risk_tier = $3,
		    credit_score = $4,
		    final_decision = $5,
		    explanation = $6,
		    updated_at = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + appColumns

	app, err := scanApplication(tx.QueryRow(ctx, query,
		params.ApplicationID,
		params.Status,
		nullableTier(params.RiskTier),
		nullableScore(params.CreditScore),
		params.FinalDecision,
		params.Explanation,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, r.classifyMissing(ctx, tx, params.ApplicationID)
		}
		return Application{}, fmt.Errorf("application: finalize decision: %w", err)
	}
	return app, nil
}

// ApplyOverride replaces a decided outcome and stamps the override fields.
// The guard excludes still-processing applications.
func (r *PGRepository) ApplyOverride(ctx context.Context, tx pgx.Tx, params OverrideWrite) (Application, error) {
	const query = `
		UPDATE applications
		SET status = $2,
		    final_decision = $2,
		    overridden_by = $3,
		    override_reason = $4,
		    overridden_at = $5,
		    updated_at = now()
		WHERE id = $1 AND status <> 'processing'
		RETURNING ` + appColumns

	app, err := scanApplication(tx.QueryRow(ctx, query,
		params.ApplicationID,
		params.NewDecision,
		params.ActorID,
		params.Reason,
		params.At,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, fmt.Errorf("application: apply override: %w", ErrNotFound)
		}
		return Application{}, fmt.Errorf("application: apply override: %w", err)
	}
	return app, nil
}

func (r *PGRepository) classifyMissing(ctx context.Context, tx pgx.Tx, id string) error {
	var status Status
	err := tx.QueryRow(ctx, `SELECT status::text FROM applications WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("application: fetch status: %w", err)
	}
	return ErrNotProcessing
}

func nullableTier(t scoring.RiskTier) any {
	if t == "" {
		return nil
	}
	return t
}

func nullableScore(s int) any {
	if s == 0 {
		return nil
	}
	return s
}

func scanApplication(row pgx.Row) (Application, error) {
	var (
		app      Application
		tier     *string
		decision *string
	)
	err := row.Scan(
		&app.ID,
		&app.ApplicantUserID,
		&app.FullName,
		&app.Email,
		&app.EmployerName,
		&app.Employment,
		&app.Duration,
		&app.AnnualIncomeCents,
		&app.MonthlyDebtCents,
		&app.LoanAmountCents,
		&app.Status,
		&tier,
		&app.CreditScore,
		&decision,
		&app.Explanation,
		&app.OverriddenBy,
		&app.OverrideReason,
		&app.OverriddenAt,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return Application{}, err
	}

	if tier != nil {
		rt := scoring.RiskTier(*tier)
		app.RiskTier = &rt
	}
	if decision != nil {
		d := scoring.Decision(*decision)
		app.FinalDecision = &d
	}
	return app, nil
}
