package payment

import (
	"billing-gateway/internal/domain/model"
	"billing-gateway/internal/domain/ports/adapter"
)

type factory struct {
	schema model.GatewayConfig
	build  func(adapter.AdapterConfig) (adapter.PaymentAdapter, error)
}

func (f factory) Name() string                { return f.schema.Name }
func (f factory) Schema() model.GatewayConfig { return f.schema }

func (f factory) New(cfg adapter.AdapterConfig) (adapter.PaymentAdapter, error) {
	return f.build(cfg)
}

// wrap adapts a typed constructor; a failed build must yield a nil interface.
func wrap[T adapter.PaymentAdapter](ctor func(adapter.AdapterConfig) (T, error)) func(adapter.AdapterConfig) (adapter.PaymentAdapter, error) {
	return func(cfg adapter.AdapterConfig) (adapter.PaymentAdapter, error) {
		a, err := ctor(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// Factories lists every built-in gateway.
func Factories() []adapter.AdapterFactory {
	return []adapter.AdapterFactory{
		factory{stripeSchema, wrap(NewStripe)},
		factory{paypalSchema, wrap(NewPayPal)},
		factory{alipaySchema, wrap(NewAlipay)},
		factory{coinbaseSchema, wrap(NewCoinbase)},
		factory{rapydSchema, wrap(NewRapyd)},
		factory{razorpaySchema, wrap(NewRazorpay)},
		factory{payuSchema, wrap(NewPayU)},
		factory{trustpaySchema, wrap(NewTrustPay)},
		factory{coingateSchema, wrap(NewCoinGate)},
		factory{cryptopaySchema, wrap(NewCryptoPay)},
	}
}
