package peer

import (
	"context"
	"net/url"

	"github.com/fjod/commerce-pipeline/pkg/events"
)

// Order is the subset of an order the payment flow needs.
type Order struct {
	ID         string       `json:"id"`
	User       string       `json:"user"`
	Status     string       `json:"status"`
	TotalPrice events.Price `json:"totalPrice"`
}

type OrderClient struct {
	c *client
}

func NewOrderClient(baseURL string, opts ...Option) *OrderClient {
	return &OrderClient{c: newClient(ServiceOrders, baseURL, opts...)}
}

// GetOrder reads an order as the caller; the order service enforces ownership.
func (oc *OrderClient) GetOrder(ctx context.Context, token, id string) (Order, error) {
	var resp struct {
		Order Order `json:"order"`
	}
	if err := oc.c.getJSON(ctx, token, "/api/orders/"+url.PathEscape(id), &resp); err != nil {
		return Order{}, err
	}
	return resp.Order, nil
}
