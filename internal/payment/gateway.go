package payment

import (
	"context"

	"go.uber.org/zap"

	"mpesa-billing/internal/config"
	"mpesa-billing/internal/mpesa"
)

// Gateway is the part of the M-PESA client the reconciliation flow uses.
type Gateway interface {
	Config() config.Mpesa
	SendStkPush(ctx context.Context, req mpesa.StkPushRequest) (*mpesa.StkPushResult, error)
	CheckTransactionStatus(ctx context.Context, checkoutRequestID string) (*mpesa.StatusResult, error)
}

// GatewayFactory builds a gateway from the settings in effect for one operation.
type GatewayFactory func(ctx context.Context) (Gateway, error)

type SettingsSource interface {
	All(ctx context.Context) (map[string]string, error)
}

// NewGatewayFactory overlays saved admin settings on the environment config
// and builds a fresh client for every call, so saved changes apply at once.
func NewGatewayFactory(base config.Mpesa, settings SettingsSource, logger *zap.Logger, opts ...mpesa.Option) GatewayFactory {
	return func(ctx context.Context) (Gateway, error) {
		cfg := base
		if settings != nil {
			values, err := settings.All(ctx)
			if err != nil {
				logger.Warn("Failed to load gateway settings, using environment", zap.Error(err))
			} else {
				cfg = cfg.WithSettings(values)
			}
		}

		client, err := mpesa.NewClient(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
