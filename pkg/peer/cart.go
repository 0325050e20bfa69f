package peer

import "context"

type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Cart struct {
	Items []CartItem `json:"items"`
}

type CartClient struct {
	c *client
}

func NewCartClient(baseURL string, opts ...Option) *CartClient {
	return &CartClient{c: newClient(ServiceCart, baseURL, opts...)}
}

// GetCart reads the caller's cart.
func (cc *CartClient) GetCart(ctx context.Context, token string) (Cart, error) {
	var resp struct {
		Cart Cart `json:"cart"`
	}
	if err := cc.c.getJSON(ctx, token, "/api/cart", &resp); err != nil {
		return Cart{}, err
	}
	return resp.Cart, nil
}
