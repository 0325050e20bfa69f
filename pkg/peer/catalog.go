package peer

import (
	"context"
	"net/url"
	"strconv"

	"github.com/fjod/commerce-pipeline/pkg/events"
)

type Product struct {
	ID     string
	Title  string
	Price  events.Price
	Stock  int
	Seller string
}

// productDTO accepts both the document-style "_id" and a plain "id".
type productDTO struct {
	MongoID string       `json:"_id"`
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	Price   events.Price `json:"price"`
	Stock   int          `json:"stock"`
	Seller  string       `json:"seller"`
}

func (p productDTO) toProduct() Product {
	id := p.MongoID
	if id == "" {
		id = p.ID
	}
	return Product{ID: id, Title: p.Title, Price: p.Price, Stock: p.Stock, Seller: p.Seller}
}

type CatalogClient struct {
	c *client
}

func NewCatalogClient(baseURL string, opts ...Option) *CatalogClient {
	return &CatalogClient{c: newClient(ServiceCatalog, baseURL, opts...)}
}

func (cc *CatalogClient) GetProduct(ctx context.Context, token, id string) (Product, error) {
	var resp struct {
		Data productDTO `json:"data"`
	}
	if err := cc.c.getJSON(ctx, token, "/api/products/"+url.PathEscape(id), &resp); err != nil {
		return Product{}, err
	}
	return resp.Data.toProduct(), nil
}

// SellerPageSize is the largest page the catalog serves for seller listings.
const SellerPageSize = 20

// ListSellerProducts returns every product owned by the calling seller,
// following skip/limit pages until a short page comes back. A page with no
// unseen product also ends the walk, so a catalog that ignores skip cannot
// loop forever.
func (cc *CatalogClient) ListSellerProducts(ctx context.Context, token string) ([]Product, error) {
	var products []Product
	seen := make(map[string]struct{})
	for skip := 0; ; skip += SellerPageSize {
		q := url.Values{}
		q.Set("skip", strconv.Itoa(skip))
		q.Set("limit", strconv.Itoa(SellerPageSize))

		var resp struct {
			Data []productDTO `json:"data"`
		}
		if err := cc.c.getJSON(ctx, token, "/api/products/seller?"+q.Encode(), &resp); err != nil {
			return nil, err
		}

		added := 0
		for _, dto := range resp.Data {
			p := dto.toProduct()
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			products = append(products, p)
			added++
		}
		if len(resp.Data) < SellerPageSize || added == 0 {
			break
		}
	}
	if products == nil {
		products = []Product{}
	}
	return products, nil
}
