package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
)

// ProfileRepo implementa repository.ProfileRepository.
type ProfileRepo struct {
	pool *pgxpool.Pool
}

var _ repository.ProfileRepository = (*ProfileRepo)(nil)

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

func (r *ProfileRepo) FindByName(ctx context.Context, name string) (*domain.UserProfile, error) {
	const q = `
		SELECT id, name, email, first_name, last_name, profile_picture_url, login_provider
		FROM user_profile WHERE name = $1`

	var (
		p                         domain.UserProfile
		email, first, last, photo *string
		provider                  string
	)
	err := r.pool.QueryRow(ctx, q, name).Scan(&p.ID, &p.Name, &email, &first, &last, &photo, &provider)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	p.Email, p.FirstName, p.LastName, p.ProfilePictureURL = deref(email), deref(first), deref(last), deref(photo)
	p.Provider = domain.Provider(provider)

	rows, err := r.pool.Query(ctx, `SELECT authority FROM authorities WHERE user_profile_id = $1 ORDER BY authority`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("find profile authorities: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("find profile authorities: %w", err)
	}
	p.Authorities = domain.Authorities(names...)
	return &p, nil
}

// Save hace upsert por name y reemplaza las authorities, todo en una transacción.
func (r *ProfileRepo) Save(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("save profile: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
		INSERT INTO user_profile (name, email, first_name, last_name, profile_picture_url, login_provider)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			profile_picture_url = EXCLUDED.profile_picture_url,
			login_provider = EXCLUDED.login_provider
		RETURNING id`

	out := *p
	if err := tx.QueryRow(ctx, upsert,
		p.Name, p.Email, p.FirstName, p.LastName, nullIfEmpty(p.ProfilePictureURL), string(p.Provider),
	).Scan(&out.ID); err != nil {
		return nil, fmt.Errorf("save profile: upsert: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM authorities WHERE user_profile_id = $1`, out.ID); err != nil {
		return nil, fmt.Errorf("save profile: clear authorities: %w", err)
	}
	out.Authorities = domain.DedupAuthorities(p.Authorities)
	if len(out.Authorities) > 0 {
		batch := &pgx.Batch{}
		for _, a := range out.Authorities {
			batch.Queue(`INSERT INTO authorities (user_profile_id, authority) VALUES ($1, $2)`, out.ID, a.Authority)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("save profile: authorities: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("save profile: commit: %w", err)
	}
	return &out, nil
}
