package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
)

// TokenStore implementa repository.TokenStore sobre una de las dos tablas de tokens.
type TokenStore struct {
	pool  *pgxpool.Pool
	table string
}

var _ repository.TokenStore = (*TokenStore)(nil)

// NewTokenStore crea el store para table (InternalTokenTable o ThirdPartyTokenTable).
func NewTokenStore(pool *pgxpool.Pool, table string) *TokenStore {
	return &TokenStore{pool: pool, table: pgx.Identifier{table}.Sanitize()}
}

const tokenColumns = `token_id, token, authentication_id, user_name, client_id, authentication, refresh_token`

// StoreAccessToken reemplaza cualquier fila previa con el mismo token_id o
// authentication_id dentro de una transacción.
func (s *TokenStore) StoreAccessToken(ctx context.Context, rec domain.TokenRecord) error {
	tok, err := json.Marshal(rec.Token)
	if err != nil {
		return fmt.Errorf("store token: marshal: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store token: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+s.table+` WHERE token_id = $1 OR authentication_id = $2`,
		rec.TokenID, rec.AuthenticationID,
	); err != nil {
		return fmt.Errorf("store token: delete previous: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.table+` (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.TokenID, tok, rec.AuthenticationID, rec.UserName, rec.ClientID,
		rec.Authentication, nullIfEmpty(rec.RefreshToken),
	); err != nil {
		return fmt.Errorf("store token: insert: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *TokenStore) ReadAccessToken(ctx context.Context, tokenValue string) (*domain.TokenRecord, error) {
	return s.one(ctx, `WHERE token_id = $1`, domain.TokenID(tokenValue))
}

func (s *TokenStore) GetAccessToken(ctx context.Context, authenticationID string) (*domain.TokenRecord, error) {
	return s.one(ctx, `WHERE authentication_id = $1`, authenticationID)
}

func (s *TokenStore) ReadByRefreshToken(ctx context.Context, refreshToken string) (*domain.TokenRecord, error) {
	return s.one(ctx, `WHERE refresh_token = $1 LIMIT 1`, refreshToken)
}

func (s *TokenStore) FindTokensByClientIDAndUserName(ctx context.Context, clientID, userName string) ([]domain.TokenRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM `+s.table+` WHERE client_id = $1 AND user_name = $2`,
		clientID, userName,
	)
	if err != nil {
		return nil, fmt.Errorf("find tokens: %w", err)
	}
	defer rows.Close()

	var out []domain.TokenRecord
	for rows.Next() {
		rec, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *TokenStore) RemoveAccessToken(ctx context.Context, tokenValue string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE token_id = $1`, domain.TokenID(tokenValue))
	if err != nil {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

func (s *TokenStore) RemoveByRefreshToken(ctx context.Context, refreshToken string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE refresh_token = $1`, refreshToken)
	if err != nil {
		return fmt.Errorf("remove by refresh token: %w", err)
	}
	return nil
}

func (s *TokenStore) one(ctx context.Context, where string, arg any) (*domain.TokenRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM `+s.table+` `+where, arg)
	rec, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return rec, err
}

func scanToken(row pgx.Row) (*domain.TokenRecord, error) {
	var (
		rec     domain.TokenRecord
		tok     []byte
		user    *string
		client  *string
		refresh *string
	)
	if err := row.Scan(&rec.TokenID, &tok, &rec.AuthenticationID, &user, &client, &rec.Authentication, &refresh); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tok, &rec.Token); err != nil {
		return nil, fmt.Errorf("scan token: unmarshal: %w", err)
	}
	rec.UserName = deref(user)
	rec.ClientID = deref(client)
	rec.RefreshToken = deref(refresh)
	return &rec, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
