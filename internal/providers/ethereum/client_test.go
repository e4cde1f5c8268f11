package ethereum

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-agent-market/internal/logger"
	"github.com/feral-file/ff-agent-market/internal/mocks"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type blockRange struct{ from, to uint64 }

func TestFilterLogs_Pagination(t *testing.T) {
	tests := []struct {
		name       string
		from, to   uint64
		stepSize   uint64
		tooMany    map[blockRange]bool
		wantRanges []blockRange
	}{
		{
			name:       "single block",
			from:       5,
			to:         5,
			stepSize:   10,
			wantRanges: []blockRange{{5, 5}},
		},
		{
			name:       "exact chunks",
			from:       0,
			to:         19,
			stepSize:   10,
			wantRanges: []blockRange{{0, 9}, {10, 19}},
		},
		{
			name:       "trailing partial chunk",
			from:       1,
			to:         25,
			stepSize:   10,
			wantRanges: []blockRange{{1, 10}, {11, 20}, {21, 25}},
		},
		{
			name:     "halves step on too many results",
			from:     0,
			to:       9,
			stepSize: 10,
			tooMany:  map[blockRange]bool{{0, 9}: true},
			wantRanges: []blockRange{
				{0, 9}, // rejected
				{0, 4},
				{5, 9},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			rpc := mocks.NewMockEthClient(ctrl)
			var got []blockRange
			rpc.EXPECT().
				FilterLogs(gomock.Any(), gomock.Any()).
				DoAndReturn(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
					r := blockRange{q.FromBlock.Uint64(), q.ToBlock.Uint64()}
					got = append(got, r)
					if tt.tooMany[r] {
						return nil, errors.New("query returned more than 10000 results")
					}
					return []types.Log{{BlockNumber: r.from}}, nil
				}).
				Times(len(tt.wantRanges))

			client := NewClient(rpc, tt.stepSize)
			logs, err := client.FilterLogs(context.Background(), ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(tt.from),
				ToBlock:   new(big.Int).SetUint64(tt.to),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantRanges, got)

			successful := 0
			for _, r := range got {
				if !tt.tooMany[r] {
					successful++
				}
			}
			assert.Len(t, logs, successful)
		})
	}
}

func TestFilterLogs_DefaultsToLatestBlock(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rpc := mocks.NewMockEthClient(ctrl)
	rpc.EXPECT().HeaderByNumber(gomock.Any(), nil).Return(&types.Header{Number: big.NewInt(3)}, nil)
	rpc.EXPECT().
		FilterLogs(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			assert.Equal(t, uint64(0), q.FromBlock.Uint64())
			assert.Equal(t, uint64(3), q.ToBlock.Uint64())
			return nil, nil
		})

	_, err := NewClient(rpc, 0).FilterLogs(context.Background(), ethereum.FilterQuery{})
	require.NoError(t, err)
}

func TestFilterLogs_EmptyRange(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rpc := mocks.NewMockEthClient(ctrl)
	logs, err := NewClient(rpc, 0).FilterLogs(context.Background(), ethereum.FilterQuery{
		FromBlock: big.NewInt(10),
		ToBlock:   big.NewInt(9),
	})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestFilterLogs_PropagatesOtherErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rpc := mocks.NewMockEthClient(ctrl)
	rpc.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset"))

	_, err := NewClient(rpc, 10).FilterLogs(context.Background(), ethereum.FilterQuery{
		FromBlock: big.NewInt(0),
		ToBlock:   big.NewInt(100),
	})
	assert.ErrorContains(t, err, "connection reset")
}

func TestIsTooManyResultsError(t *testing.T) {
	assert.False(t, isTooManyResultsError(nil))
	assert.True(t, isTooManyResultsError(errors.New("query returned more than 10000 results")))
	assert.True(t, isTooManyResultsError(errors.New("exceeded maximum block range: 5000")))
	assert.False(t, isTooManyResultsError(errors.New("connection refused")))
}

func TestEthereumBlockFetcher(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rpc := mocks.NewMockEthClient(ctrl)
	rpc.EXPECT().HeaderByNumber(gomock.Any(), nil).Return(&types.Header{Number: big.NewInt(42)}, nil)
	rpc.EXPECT().HeaderByNumber(gomock.Any(), big.NewInt(7)).Return(&types.Header{Number: big.NewInt(7), Time: 1700000000}, nil)

	fetcher := NewEthereumBlockFetcher(rpc)
	latest, err := fetcher.FetchLatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), latest)

	ts, err := fetcher.FetchBlockTimestamp(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts.Unix())
}
