package graphql_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	gqlgen "github.com/99designs/gqlgen/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/feral-file/ff-agent-market/internal/api/graphql"
	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/store"
	"github.com/feral-file/ff-agent-market/internal/store/schema"
)

const (
	seller  = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	buyer   = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	oneEth  = "1000000000000000000"
	halfEth = "500000000000000000"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	os.Exit(m.Run())
}

func meta(eventType domain.EventType, block, logIndex uint64) store.EventMeta {
	return store.EventMeta{
		Chain:       domain.ChainLocalDevnet,
		EventType:   eventType,
		TxHash:      fmt.Sprintf("0x%064x", block*1000+logIndex),
		LogIndex:    logIndex,
		BlockNumber: block,
		Timestamp:   baseTime.Add(time.Duration(block) * time.Second),
	}
}

func txHash(block, logIndex uint64) string {
	return fmt.Sprintf("0x%064x", block*1000+logIndex)
}

// seedStore projects:
//   - listings 1 (token 5), 2 (token 6) and 4 (token 8, same block as 2) active
//   - listing 3 (token 7) canceled
//   - listing 5 (token 9) purchased
//   - a purchase of listing 99 that was never listed
//   - token 5 minted to the seller then moved to the buyer
func seedStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()

	listed := func(id, tokenID, price string, block, logIndex uint64) {
		_, err := s.ApplyListed(ctx, store.ListedInput{
			Meta: meta(domain.EventTypeListed, block, logIndex), ListingID: id, Seller: seller, TokenID: tokenID, Price: price,
		})
		require.NoError(t, err)
	}

	listed("1", "5", oneEth, 10, 0)
	listed("2", "6", halfEth, 11, 0)
	listed("4", "8", oneEth, 11, 1)
	listed("3", "7", "2000000000000000000", 12, 0)
	_, err := s.ApplyListingCanceled(ctx, store.ListingCanceledInput{Meta: meta(domain.EventTypeListingCanceled, 13, 0), ListingID: "3"})
	require.NoError(t, err)

	listed("5", "9", halfEth, 14, 0)
	_, err = s.ApplyPurchased(ctx, store.PurchasedInput{
		Meta: meta(domain.EventTypePurchased, 15, 0), ListingID: "5", Buyer: buyer, Seller: seller, Price: halfEth,
	})
	require.NoError(t, err)
	_, err = s.ApplyPurchased(ctx, store.PurchasedInput{
		Meta: meta(domain.EventTypePurchased, 16, 0), ListingID: "99", Buyer: buyer, Seller: seller, Price: oneEth,
	})
	require.NoError(t, err)

	_, err = s.ApplyTransfer(ctx, store.TransferInput{
		Meta: meta(domain.EventTypeTransfer, 1, 0), TokenID: "5", From: domain.ETHEREUM_ZERO_ADDRESS, To: seller,
	})
	require.NoError(t, err)
	_, err = s.ApplyTransfer(ctx, store.TransferInput{
		Meta: meta(domain.EventTypeTransfer, 17, 0), TokenID: "5", From: seller, To: buyer,
	})
	require.NoError(t, err)

	return s
}

func newExecutor(t *testing.T, s store.Store) graphql.Executor {
	t.Helper()
	exec, err := graphql.NewExecutor(graphql.NewResolver(s))
	require.NoError(t, err)
	return exec
}

// variables decodes JSON the way request bodies are decoded
func variables(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var vars map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &vars))
	return vars
}

func run(t *testing.T, exec graphql.Executor, query string, vars map[string]interface{}) (map[string]interface{}, gqlerror.List) {
	t.Helper()
	resp := exec.Execute(context.Background(), &gqlgen.RawParams{Query: query, Variables: vars})
	require.NotNil(t, resp)

	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, resp.Errors
	}
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	return data, resp.Errors
}

func ids(t *testing.T, list interface{}) []string {
	t.Helper()
	items, ok := list.([]interface{})
	require.True(t, ok, "expected a list, got %T", list)
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.(map[string]interface{})["id"].(string))
	}
	return out
}

func TestExecute_ActiveListings(t *testing.T) {
	exec := newExecutor(t, seedStore(t))

	query := `query ActiveListings($first: Int!, $skip: Int!) {
  listings(first: $first, skip: $skip, where: {active: true}, orderBy: createdAt, orderDirection: desc) {
    id seller tokenId price createdAt
  }
}`
	data, errs := run(t, exec, query, variables(t, `{"first": 1000, "skip": 0}`))
	require.Empty(t, errs)

	// Newest first; listings 2 and 4 share a block and are ordered by id descending
	assert.Equal(t, []string{"4", "2", "1"}, ids(t, data["listings"]))

	first := data["listings"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, seller, first["seller"])
	assert.Equal(t, "8", first["tokenId"])
	assert.Equal(t, oneEth, first["price"])
	assert.Equal(t, fmt.Sprint(baseTime.Add(11*time.Second).Unix()), first["createdAt"])
}

func TestExecute_ListingsDefaultOrder(t *testing.T) {
	exec := newExecutor(t, seedStore(t))

	data, errs := run(t, exec, `{ listings { id active } }`, nil)
	require.Empty(t, errs)
	assert.Equal(t, []string{"5", "3", "4", "2", "1"}, ids(t, data["listings"]))

	data, errs = run(t, exec, `{ listings(orderBy: price, where: {active: true}) { id } }`, nil)
	require.Empty(t, errs)
	// Ascending by price, ties broken by id in the same direction
	assert.Equal(t, []string{"2", "1", "4"}, ids(t, data["listings"]))
}

func TestExecute_Pagination(t *testing.T) {
	exec := newExecutor(t, seedStore(t))

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "first limits", query: `{ listings(first: 2) { id } }`, want: []string{"5", "3"}},
		{name: "skip offsets", query: `{ listings(first: 2, skip: 2) { id } }`, want: []string{"4", "2"}},
		{name: "first above the cap is clamped", query: `{ listings(first: 5000) { id } }`, want: []string{"5", "3", "4", "2", "1"}},
		{name: "zero first", query: `{ listings(first: 0) { id } }`, want: []string{}},
		{name: "negative first", query: `{ listings(first: -3) { id } }`, want: []string{}},
		{name: "negative skip", query: `{ listings(first: 1, skip: -4) { id } }`, want: []string{"5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, errs := run(t, exec, tt.query, nil)
			require.Empty(t, errs)
			assert.Equal(t, tt.want, ids(t, data["listings"]))
		})
	}
}

func TestExecute_ListingByID(t *testing.T) {
	exec := newExecutor(t, seedStore(t))

	data, errs := run(t, exec, `{ canceled: listing(id: "3") { id active tokenId } missing: listing(id: 42) { id } }`, nil)
	require.Empty(t, errs)

	canceled := data["canceled"].(map[string]interface{})
	assert.Equal(t, false, canceled["active"])
	assert.Equal(t, "7", canceled["tokenId"])
	assert.Nil(t, data["missing"])

	data, errs = run(t, exec, `query($id: ID!) { listing(id: $id) { id } }`, variables(t, `{"id": "0001"}`))
	require.Empty(t, errs)
	assert.Equal(t, "1", data["listing"].(map[string]interface{})["id"])
}

func TestExecute_InvalidID(t *testing.T) {
	exec := newExecutor(t, seedStore(t))

	data, errs := run(t, exec, `{ listing(id: "abc") { id } }`, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "validation_failed", errs[0].Extensions["code"])
	assert.Equal(t, "listing", fmt.Sprint(errs[0].Path[0]))
	// Nullable field: the rest of the response survives
	require.NotNil(t, data)
	assert.Nil(t, data["listing"])
}

func TestExecute_SelectionFeatures(t *testing.T) {
	exec := newExecutor(t, seedStore(t))

	query := `query Cards($withPrice: Boolean!) {
  a: listing(id: "1") { ...Card __typename }
  b: listing(id: "2") { id price @include(if: $withPrice) ... on Listing { tokenId } }
  __typename
}

fragment Card on Listing { id tokenId }`

	resp := exec.Execute(context.Background(), &gqlgen.RawParams{
		Query:     query,
		Variables: variables(t, `{"withPrice": false}`),
	})
	require.Empty(t, resp.Errors)

	// Keys follow selection order
	assert.Equal(t,
		`{"a":{"id":"1","tokenId":"5","__typename":"Listing"},"b":{"id":"2","tokenId":"6"},"__typename":"Query"}`,
		string(resp.Data))
}

func TestExecute_Sales(t *testing.T) {
	exec := newExecutor(t, seedStore(t))

	data, errs := run(t, exec, `{ sales { id listingId tokenId price buyer } }`, nil)
	require.Empty(t, errs)

	sales := data["sales"].([]interface{})
	require.Len(t, sales, 2)

	// Newest first: the sale of a listing that was never indexed has the unknown token id
	orphan := sales[0].(map[string]interface{})
	assert.Equal(t, domain.EventID(txHash(16, 0), 0), orphan["id"])
	assert.Equal(t, "99", orphan["listingId"])
	assert.Equal(t, domain.UNKNOWN_TOKEN_ID, orphan["tokenId"])

	sold := sales[1].(map[string]interface{})
	assert.Equal(t, "9", sold["tokenId"])
	assert.Equal(t, halfEth, sold["price"])
	assert.Equal(t, buyer, sold["buyer"])

	data, errs = run(t, exec, `query($id: ID!) { sale(id: $id) { listingId } }`,
		map[string]interface{}{"id": domain.EventID(txHash(15, 0), 0)})
	require.Empty(t, errs)
	assert.Equal(t, "5", data["sale"].(map[string]interface{})["listingId"])

	data, errs = run(t, exec, `{ sales(where: {tokenId: "9"}) { id } }`, nil)
	require.Empty(t, errs)
	assert.Len(t, data["sales"], 1)
}

func TestExecute_SaleByID(t *testing.T) {
	exec := newExecutor(t, seedStore(t))
	saleID := domain.EventID(txHash(15, 0), 0)

	tests := []struct {
		name     string
		id       string
		expected interface{}
	}{
		{name: "canonical id", id: saleID, expected: saleID},
		{name: "checksummed hash", id: "0x" + strings.ToUpper(txHash(15, 0)[2:]) + "-0", expected: saleID},
		{name: "unknown log index", id: txHash(15, 0) + "-7", expected: nil},
		{name: "not an event id", id: "5", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, errs := run(t, exec, `query($id: ID!) { sale(id: $id) { id } }`, map[string]interface{}{"id": tt.id})
			require.Empty(t, errs)
			if tt.expected == nil {
				assert.Nil(t, data["sale"])
				return
			}
			assert.Equal(t, tt.expected, data["sale"].(map[string]interface{})["id"])
		})
	}
}

func TestExecute_Ownership(t *testing.T) {
	exec := newExecutor(t, seedStore(t))

	data, errs := run(t, exec, `{
  agentOwnership(id: "5") { id owner updatedAt }
  ownershipTransfers(where: {tokenId: "5"}) { from to blockNumber }
}`, nil)
	require.Empty(t, errs)

	ownership := data["agentOwnership"].(map[string]interface{})
	assert.Equal(t, buyer, ownership["owner"])
	assert.Equal(t, fmt.Sprint(baseTime.Add(17*time.Second).Unix()), ownership["updatedAt"])

	transfers := data["ownershipTransfers"].([]interface{})
	require.Len(t, transfers, 2)
	assert.Equal(t, domain.ETHEREUM_ZERO_ADDRESS, transfers[0].(map[string]interface{})["from"])
	assert.Equal(t, "17", transfers[1].(map[string]interface{})["blockNumber"])

	// Lowercase filters match checksummed addresses
	data, errs = run(t, exec, `query($owner: String!) { agentOwnerships(where: {owner: $owner}) { id } }`,
		map[string]interface{}{"owner": "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"})
	require.Empty(t, errs)
	assert.Equal(t, []string{"5"}, ids(t, data["agentOwnerships"]))
}

func TestExecute_Errors(t *testing.T) {
	exec := newExecutor(t, seedStore(t))

	tests := []struct {
		name    string
		query   string
		message string
	}{
		{name: "empty query", query: "  ", message: "no query provided"},
		{name: "syntax error", query: `{ listings { id `, message: "Expected Name"},
		{name: "unknown field", query: `{ tokens { id } }`, message: `Cannot query field "tokens"`},
		{name: "introspection", query: `{ __schema { types { name } } }`, message: "Introspection is not supported"},
		{name: "missing variable", query: `query($id: ID!) { listing(id: $id) { id } }`, message: "must be defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := run(t, exec, tt.query, nil)
			require.NotEmpty(t, errs)
			assert.Contains(t, errs[0].Message, tt.message)
		})
	}
}

func TestExecute_OperationName(t *testing.T) {
	exec := newExecutor(t, seedStore(t))

	query := `query One { listing(id: "1") { id } } query Two { listing(id: "2") { id } }`

	resp := exec.Execute(context.Background(), &gqlgen.RawParams{Query: query, OperationName: "Two"})
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"listing":{"id":"2"}}`, string(resp.Data))

	resp = exec.Execute(context.Background(), &gqlgen.RawParams{Query: query})
	require.Len(t, resp.Errors, 1)

	resp = exec.Execute(context.Background(), &gqlgen.RawParams{Query: query, OperationName: "Three"})
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0].Message, "Three")
}

// failingStore fails every listing query
type failingStore struct {
	store.Store
}

func (failingStore) GetListings(context.Context, store.ListingQueryFilter) ([]*schema.Listing, error) {
	return nil, errors.New("connection reset")
}

func TestExecute_StoreFailureIsHidden(t *testing.T) {
	exec := newExecutor(t, failingStore{Store: store.NewMemoryStore()})

	resp := exec.Execute(context.Background(), &gqlgen.RawParams{Query: `{ listings { id } }`})
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "Internal server error", resp.Errors[0].Message)
	assert.Equal(t, "internal_error", resp.Errors[0].Extensions["code"])

	// listings is non-null, so the whole data object is null
	assert.Equal(t, "null", string(resp.Data))
}
