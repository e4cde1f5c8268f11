package marketplace_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/marketplace"
	"github.com/feral-file/ff-agent-market/internal/mocks"
	"github.com/feral-file/ff-agent-market/internal/query"
)

func listing(id string, tokenID int64, price string) query.Listing {
	p, _ := domain.ParseBigInt(price)
	return query.Listing{
		ID:        id,
		Seller:    testSeller,
		TokenID:   big.NewInt(tokenID),
		Price:     p,
		CreatedAt: time.Unix(1735689600, 0).UTC(),
		Active:    true,
	}
}

func TestListingFeed_Refresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockQueryClient(ctrl)
	feed := marketplace.NewListingFeed(client, nil)
	defer feed.Close()

	want := []query.Listing{listing("2", 5, "1000"), listing("1", 3, "500")}
	client.EXPECT().ActiveListings(gomock.Any()).Return(want, nil)

	got, err := feed.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, want, feed.Listings())
}

func TestListingFeed_RefreshErrorKeepsPreviousListings(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockQueryClient(ctrl)
	feed := marketplace.NewListingFeed(client, nil)
	defer feed.Close()

	first := []query.Listing{listing("1", 3, "500")}
	gomock.InOrder(
		client.EXPECT().ActiveListings(gomock.Any()).Return(first, nil),
		client.EXPECT().ActiveListings(gomock.Any()).Return(nil, query.ErrMalformedResponse),
	)

	_, err := feed.Refresh(context.Background())
	require.NoError(t, err)

	_, err = feed.Refresh(context.Background())
	assert.ErrorIs(t, err, query.ErrMalformedResponse)
	assert.Equal(t, first, feed.Listings())
}

func TestListingFeed_NewerRefreshSupersedesInFlight(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockQueryClient(ctrl)
	feed := marketplace.NewListingFeed(client, nil)
	defer feed.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	stale := []query.Listing{listing("1", 3, "500")}
	fresh := []query.Listing{listing("2", 4, "700")}

	gomock.InOrder(
		// The first request ignores cancellation and answers late with stale data
		client.EXPECT().ActiveListings(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]query.Listing, error) {
			close(entered)
			<-ctx.Done()
			<-release
			return stale, nil
		}),
		client.EXPECT().ActiveListings(gomock.Any()).Return(fresh, nil),
	)

	type outcome struct {
		listings []query.Listing
		err      error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		l, err := feed.Refresh(context.Background())
		firstDone <- outcome{l, err}
	}()
	<-entered

	got, err := feed.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	close(release)
	first := <-firstDone
	assert.ErrorIs(t, first.err, marketplace.ErrSuperseded)
	assert.Nil(t, first.listings)

	// The stale answer was never applied
	assert.Equal(t, fresh, feed.Listings())
}

func TestListingFeed_Close(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockQueryClient(ctrl)
	feed := marketplace.NewListingFeed(client, nil)

	entered := make(chan struct{})
	client.EXPECT().ActiveListings(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]query.Listing, error) {
		close(entered)
		<-ctx.Done()
		return nil, errors.Join(query.ErrCanceled, ctx.Err())
	})

	done := make(chan error, 1)
	go func() {
		_, err := feed.Refresh(context.Background())
		done <- err
	}()
	<-entered

	feed.Close()
	assert.ErrorIs(t, <-done, marketplace.ErrFeedClosed)

	_, err := feed.Refresh(context.Background())
	assert.ErrorIs(t, err, marketplace.ErrFeedClosed)
}

func TestListingFeed_EvictsDelistedMetadata(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockQueryClient(ctrl)
	cache, l, _ := setupMemoryCache(t, time.Hour)
	feed := marketplace.NewListingFeed(client, cache)
	defer feed.Close()

	l.EXPECT().GetAgent(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tokenID *big.Int) (*domain.AgentMetadata, error) {
		return agentNamed("agent-" + tokenID.String()), nil
	}).Times(3) // tokens 3 and 5, then token 7

	gomock.InOrder(
		client.EXPECT().ActiveListings(gomock.Any()).Return([]query.Listing{listing("1", 3, "500"), listing("2", 5, "600")}, nil),
		client.EXPECT().ActiveListings(gomock.Any()).Return([]query.Listing{listing("2", 5, "600"), listing("3", 7, "900")}, nil),
	)

	_, err := feed.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())

	// Token 3 was bought or canceled: its metadata is dropped, token 5 stays cached
	_, err = feed.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())
}

func TestListingFeed_NewerRefreshStopsStaleCacheWarm(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockQueryClient(ctrl)
	cache, l, _ := setupMemoryCache(t, time.Hour)
	feed := marketplace.NewListingFeed(client, cache)
	defer feed.Close()

	stale := []query.Listing{listing("1", 3, "500")}
	fresh := []query.Listing{listing("2", 4, "700")}
	gomock.InOrder(
		client.EXPECT().ActiveListings(gomock.Any()).Return(stale, nil),
		client.EXPECT().ActiveListings(gomock.Any()).Return(fresh, nil),
	)

	warming := make(chan struct{})
	l.EXPECT().GetAgent(gomock.Any(), big.NewInt(3)).DoAndReturn(func(ctx context.Context, _ *big.Int) (*domain.AgentMetadata, error) {
		close(warming)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	l.EXPECT().GetAgent(gomock.Any(), big.NewInt(4)).Return(agentNamed("agent-4"), nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := feed.Refresh(context.Background())
		firstDone <- err
	}()
	<-warming

	got, err := feed.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	require.NoError(t, <-firstDone)

	// Only the newest listing set is cached
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, fresh, feed.Listings())
}

func TestCards(t *testing.T) {
	cache, l, _ := setupMemoryCache(t, time.Hour)

	l.EXPECT().GetAgent(gomock.Any(), bigEq{big.NewInt(5)}).Return(agentNamed("five"), nil)
	l.EXPECT().GetAgent(gomock.Any(), bigEq{big.NewInt(6)}).Return(nil, errors.New("rpc down"))

	listings := []query.Listing{
		listing("1", 5, "1500000000000000000"),
		listing("2", 6, "100000000000000000"),
	}

	cards := marketplace.Cards(context.Background(), listings, cache)
	require.Len(t, cards, 2)

	assert.Equal(t, "1.5", cards[0].PriceEther)
	require.NotNil(t, cards[0].Agent)
	assert.Equal(t, "five", cards[0].Agent.Name)

	assert.Equal(t, "0.1", cards[1].PriceEther)
	assert.Nil(t, cards[1].Agent)
	assert.Equal(t, "2", cards[1].ID)
}
