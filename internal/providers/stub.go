// Package providers holds placeholder PriceProvider/MacroProvider
// implementations. Concrete upstream HTTP clients are an integration
// point left to the deployment: wire any type satisfying
// collector.PriceProvider or collector.MacroProvider in their place.
package providers

import (
	"context"
	"fmt"

	"github.com/aristath/arduino-trader/internal/collector"
	"github.com/aristath/arduino-trader/internal/coreerr"
)

// NotConfigured is a PriceProvider/MacroProvider that always fails with
// a client_error, for wiring a scheduler before a real upstream client
// is plugged in.
type NotConfigured struct{}

func (NotConfigured) GetOHLC(ctx context.Context, assetID string, days int) ([]collector.PriceBar, error) {
	return nil, coreerr.New(coreerr.ClientError, fmt.Sprintf("no price provider configured for %s", assetID), nil)
}

func (NotConfigured) GetSeries(ctx context.Context, seriesID string, startDate, endDate string) ([]collector.MacroPoint, error) {
	return nil, coreerr.New(coreerr.ClientError, fmt.Sprintf("no macro provider configured for %s", seriesID), nil)
}
