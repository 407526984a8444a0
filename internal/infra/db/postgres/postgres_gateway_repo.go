package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/repository"
)

// CredentialSealer encrypts gateway credentials before they reach the database.
type CredentialSealer interface {
	SealCredentials(creds map[string]string) (string, error)
	OpenCredentials(sealed string) (map[string]string, error)
}

var _ repository.GatewayRepository = (*gatewayRepo)(nil)

type gatewayRepo struct {
	pool   *pgxpool.Pool
	sealer CredentialSealer
}

func NewGatewayRepo(pool *pgxpool.Pool, sealer CredentialSealer) *gatewayRepo {
	return &gatewayRepo{pool: pool, sealer: sealer}
}

const gatewayColumns = `id, gateway, title, enabled, test_mode, credentials, created_at, updated_at`

func (r *gatewayRepo) scan(row pgx.Row) (*model.PayGateway, error) {
	g := &model.PayGateway{}
	var sealed string
	if err := row.Scan(&g.ID, &g.Gateway, &g.Title, &g.Enabled, &g.TestMode, &sealed, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	creds, err := r.sealer.OpenCredentials(sealed)
	if err != nil {
		return nil, &domain.ConfigurationError{Gateway: g.Gateway, Field: "credentials", Reason: "cannot be decrypted"}
	}
	g.Credentials = creds
	return g, nil
}

func (r *gatewayRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PayGateway, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+gatewayColumns+` FROM pay_gateways WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

func (r *gatewayRepo) FindByName(ctx context.Context, tx repository.Tx, name string) (*model.PayGateway, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+gatewayColumns+` FROM pay_gateways WHERE lower(gateway)=$1;`, strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

func (r *gatewayRepo) List(ctx context.Context, tx repository.Tx) ([]*model.PayGateway, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+gatewayColumns+` FROM pay_gateways ORDER BY id;`)
	if err != nil {
		return nil, repoErr(err)
	}
	defer rows.Close()

	var out []*model.PayGateway
	for rows.Next() {
		g, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// Save inserts a gateway when ID is zero and updates it otherwise.
func (r *gatewayRepo) Save(ctx context.Context, tx repository.Tx, g *model.PayGateway) error {
	sealed, err := r.sealer.SealCredentials(g.Credentials)
	if err != nil {
		return err
	}
	now := time.Now()
	if g.ID == 0 {
		const q = `
INSERT INTO pay_gateways (gateway, title, enabled, test_mode, credentials, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6) RETURNING id;`
		row, err := pickRow(ctx, r.pool, tx, q, g.Gateway, g.Title, g.Enabled, g.TestMode, sealed, now)
		if err != nil {
			return err
		}
		if err := row.Scan(&g.ID); err != nil {
			return repoErr(mapPgError(err))
		}
		g.CreatedAt, g.UpdatedAt = now, now
		return nil
	}

	const q = `
UPDATE pay_gateways SET gateway=$2, title=$3, enabled=$4, test_mode=$5, credentials=$6, updated_at=$7
WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, g.ID, g.Gateway, g.Title, g.Enabled, g.TestMode, sealed, now)
	if err != nil {
		return repoErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	g.UpdatedAt = now
	return nil
}
