package port

import (
	"context"

	"stratwatch/internal/domain"
)

type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
	Series(ctx context.Context, symbol string, interval domain.Interval, full bool) (domain.Series, error)
}
