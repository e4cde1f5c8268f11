package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
)

const (
	// DefaultEndpoint is the subgraph-compatible endpoint served by the api service
	DefaultEndpoint = "http://localhost:8000/subgraphs/name/scaffold-eth/your-contract"
	// DefaultPageSize is the largest page the endpoint returns
	DefaultPageSize = 1000
)

const listingFields = `id seller tokenId price createdAt`

const activeListingsQuery = `query ActiveListings($first: Int!, $skip: Int!) {
  listings(first: $first, skip: $skip, where: {active: true}, orderBy: createdAt, orderDirection: desc) {
    ` + listingFields + `
  }
}`

const listingQuery = `query Listing($id: ID!) {
  listing(id: $id) {
    ` + listingFields + ` active
  }
}`

// Listing is an offer returned by the query endpoint
type Listing struct {
	ID        string
	Seller    string
	TokenID   *big.Int
	Price     *big.Int
	CreatedAt time.Time
	Active    bool
}

// Config holds the configuration for the query client
type Config struct {
	Endpoint string
	// PageSize bounds each listings request; results are fetched page by page
	PageSize int
}

// Client reads the projection through the GraphQL endpoint
//
//go:generate mockgen -source=client.go -destination=../mocks/query_client.go -package=mocks -mock_names=Client=MockQueryClient
type Client interface {
	// Query posts a GraphQL query and decodes "data" into out
	Query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error
	// ActiveListings returns every active listing, newest first, ties broken by id descending
	ActiveListings(ctx context.Context) ([]Listing, error)
	// Listing returns a listing by id, or nil when it does not exist
	Listing(ctx context.Context, id string) (*Listing, error)
}

type client struct {
	http     adapter.HTTPClient
	json     adapter.JSON
	endpoint string
	pageSize int
}

// NewClient creates a query client
func NewClient(cfg Config, httpClient adapter.HTTPClient, jsonAdapter adapter.JSON) Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.PageSize <= 0 || cfg.PageSize > DefaultPageSize {
		cfg.PageSize = DefaultPageSize
	}
	return &client{
		http:     httpClient,
		json:     jsonAdapter,
		endpoint: cfg.Endpoint,
		pageSize: cfg.PageSize,
	}
}

type request struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage    `json:"data"`
	Errors []GraphQLErrorItem `json:"errors"`
}

func (c *client) Query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}

	body, err := c.json.Marshal(request{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	respBody, err := c.http.Post(ctx, c.endpoint, map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}, body)
	if err != nil {
		return c.transportError(ctx, err)
	}

	var resp response
	if err := c.json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(resp.Errors) > 0 {
		return &GraphQLError{Errors: resp.Errors}
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformedResponse)
	}

	if out == nil {
		return nil
	}
	if err := c.json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return nil
}

func (c *client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}

	var statusErr *adapter.HTTPStatusError
	if errors.As(err, &statusErr) {
		return &TransportError{StatusCode: statusErr.StatusCode, Err: err}
	}
	return &TransportError{Err: err}
}

// listingWire is a listing as the endpoint encodes it: BigInt values as decimal strings
type listingWire struct {
	ID        string `json:"id"`
	Seller    string `json:"seller"`
	TokenID   string `json:"tokenId"`
	Price     string `json:"price"`
	CreatedAt string `json:"createdAt"`
	Active    *bool  `json:"active"`
}

func (w listingWire) decode() (Listing, error) {
	tokenID, err := domain.ParseBigInt(w.TokenID)
	if err != nil {
		return Listing{}, fmt.Errorf("%w: listing %s token id: %v", ErrMalformedResponse, w.ID, err)
	}
	price, err := domain.ParseBigInt(w.Price)
	if err != nil {
		return Listing{}, fmt.Errorf("%w: listing %s price: %v", ErrMalformedResponse, w.ID, err)
	}
	createdAt, err := strconv.ParseInt(w.CreatedAt, 10, 64)
	if err != nil {
		return Listing{}, fmt.Errorf("%w: listing %s createdAt: %v", ErrMalformedResponse, w.ID, err)
	}
	if !domain.IsNumeric(w.ID) {
		return Listing{}, fmt.Errorf("%w: listing id %q", ErrMalformedResponse, w.ID)
	}

	listing := Listing{
		ID:        w.ID,
		Seller:    domain.NormalizeAddress(w.Seller),
		TokenID:   tokenID,
		Price:     price,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
		Active:    true,
	}
	if w.Active != nil {
		listing.Active = *w.Active
	}
	return listing, nil
}

func (c *client) ActiveListings(ctx context.Context) ([]Listing, error) {
	listings := make([]Listing, 0)
	// Offset paging over a changing set can return a listing on two pages
	seen := make(map[string]struct{})

	for skip := 0; ; skip += c.pageSize {
		var page struct {
			Listings []listingWire `json:"listings"`
		}
		err := c.Query(ctx, activeListingsQuery, map[string]interface{}{
			"first": c.pageSize,
			"skip":  skip,
		}, &page)
		if err != nil {
			return nil, err
		}

		for _, w := range page.Listings {
			listing, err := w.decode()
			if err != nil {
				return nil, err
			}
			if _, ok := seen[listing.ID]; ok {
				continue
			}
			seen[listing.ID] = struct{}{}
			listings = append(listings, listing)
		}

		if len(page.Listings) < c.pageSize {
			break
		}
	}

	SortListings(listings)

	logger.DebugCtx(ctx, "Fetched active listings", zap.Int("count", len(listings)))

	return listings, nil
}

func (c *client) Listing(ctx context.Context, id string) (*Listing, error) {
	var data struct {
		Listing *listingWire `json:"listing"`
	}
	if err := c.Query(ctx, listingQuery, map[string]interface{}{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Listing == nil {
		return nil, nil
	}

	listing, err := data.Listing.decode()
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// SortListings orders listings by creation time descending, ties broken by id descending
func SortListings(listings []Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		a, b := listings[i], listings[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return compareIDs(a.ID, b.ID) > 0
	})
}

// compareIDs compares decimal ids numerically
func compareIDs(a, b string) int {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	if !okA || !okB {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	return x.Cmp(y)
}
