package repository

import (
	"context"

	"billing-gateway/internal/domain/model"
)

// GatewayRepository stores configured gateways. Credentials are returned decrypted.
type GatewayRepository interface {
	FindByID(ctx context.Context, tx Tx, id int64) (*model.PayGateway, error)
	FindByName(ctx context.Context, tx Tx, name string) (*model.PayGateway, error)
	List(ctx context.Context, tx Tx) ([]*model.PayGateway, error)
	Save(ctx context.Context, tx Tx, g *model.PayGateway) error
}
