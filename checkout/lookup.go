package checkout

import (
	"context"
	"fmt"

	"github.com/kadochi/shopcore/upstream"
)

// AmountLookup resolves an order's authoritative total, already converted
// to the gateway's unit. Used only when no client-side amount hint
// survived the redirect round trip.
type AmountLookup interface {
	OrderAmount(ctx context.Context, orderID string) (int64, error)
}

// OrderTotalLookup reads the order total from the commerce backend
type OrderTotalLookup struct {
	Client *upstream.Client
	// Divisor converts the backend's currency unit into the gateway's;
	// a rial-priced store paying a toman gateway uses 10. Zero means no
	// conversion.
	Divisor int64
}

type orderTotalBody struct {
	Total int64 `json:"total"`
}

// OrderAmount fetches the order and returns its total in gateway units
func (l *OrderTotalLookup) OrderAmount(ctx context.Context, orderID string) (int64, error) {
	resp, err := l.Client.Call(ctx, upstream.Descriptor{
		Path:      "/orders/" + orderID,
		DedupeKey: "order-total:" + orderID,
	})
	if err != nil {
		return 0, err
	}

	var body orderTotalBody
	if err := resp.JSON(&body); err != nil {
		return 0, fmt.Errorf("checkout: unreadable order total for %s: %w", orderID, err)
	}

	total := body.Total
	if l.Divisor > 1 {
		total /= l.Divisor
	}
	return total, nil
}
