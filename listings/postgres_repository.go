package listings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aryangodara/dalil/location"
)

const listingColumns = `id, owner_id, name_en, name_ar, description_en, description_ar,
	category, city, phone, website, status, rejection_reason, is_global,
	location_confirmation, location_verified, location_detection, needs_admin_review,
	created_at, updated_at`

// PostgresRepository stores listings in the listings table.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, l *Listing) error {
	query := `INSERT INTO listings (` + listingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.OwnerID, l.NameEn, l.NameAr, l.DescriptionEn, l.DescriptionAr,
		l.Category, l.City, l.Phone, l.Website, l.Status, l.RejectionReason, l.IsGlobal,
		l.LocationConfirmation, l.LocationVerified, l.LocationDetection, l.NeedsAdminReview,
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	var l Listing
	if err := r.db.GetContext(ctx, &l, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select listing: %w", err)
	}
	return &l, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) error {
	query := `UPDATE listings SET status = $3, rejection_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, id, from, to, reason)
	if err != nil {
		return fmt.Errorf("update listing status: %w", err)
	}
	return requireRows(result, ErrInvalidStatus)
}

func (r *PostgresRepository) UpdateLocation(ctx context.Context, id uuid.UUID, p location.ProcessedLocation) error {
	query := `UPDATE listings
		SET is_global = $2, location_confirmation = $3, location_verified = $4,
			location_detection = $5, needs_admin_review = $6, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		id, p.IsGlobal, p.LocationConfirmation, p.LocationVerified, p.LocationDetection, p.NeedsAdminReview,
	)
	if err != nil {
		return fmt.Errorf("update listing location: %w", err)
	}
	return requireRows(result, ErrNotFound)
}

func (r *PostgresRepository) Search(ctx context.Context, f SearchFilter) ([]Listing, error) {
	f = f.normalized()

	var (
		where = []string{"status = $1"}
		args  = []any{StatusApproved}
	)
	if f.Query != "" {
		args = append(args, "%"+escapeLike(f.Query)+"%")
		where = append(where, fmt.Sprintf("(name_en ILIKE $%d OR name_ar ILIKE $%d)", len(args), len(args)))
	}
	if f.City != "" {
		args = append(args, f.City)
		where = append(where, fmt.Sprintf("LOWER(city) = LOWER($%d)", len(args)))
	}
	switch f.Scope {
	case ScopeSaudi:
		where = append(where, "is_global = FALSE")
	case ScopeGlobal:
		where = append(where, "is_global = TRUE")
	}
	args = append(args, f.Limit, f.Offset)

	query := fmt.Sprintf(`SELECT %s FROM listings WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		listingColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	listings := []Listing{}
	if err := r.db.SelectContext(ctx, &listings, query, args...); err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}
	return listings, nil
}

func (r *PostgresRepository) ListUnverifiedLocations(ctx context.Context, limit int) ([]Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE location_verified = FALSE ORDER BY created_at ASC LIMIT $1`

	listings := []Listing{}
	if err := r.db.SelectContext(ctx, &listings, query, limit); err != nil {
		return nil, fmt.Errorf("select unverified listings: %w", err)
	}
	return listings, nil
}

func requireRows(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
