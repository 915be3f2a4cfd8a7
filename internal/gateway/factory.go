package gateway

import (
	exchange "session-core/pkg/exchanges/common"
	"session-core/pkg/exchanges/oanda"
)

// OandaFactory creates one REST client per account, each with its own throttle.
func OandaFactory(cfg oanda.Config) Factory {
	return func(accountID string) (exchange.Broker, error) {
		return oanda.NewClient(cfg), nil
	}
}

// SharedFactory hands every account the same broker, as the paper venue does.
func SharedFactory(b exchange.Broker) Factory {
	return func(string) (exchange.Broker, error) {
		return b, nil
	}
}
