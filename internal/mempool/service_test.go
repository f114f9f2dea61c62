package mempool

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"mevpipe/internal/cache"
	"mevpipe/pkg/abis"
	"mevpipe/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

// downCache returns a client pointed at a closed port: every operation
// errors, which the service must tolerate.
func downCache() *cache.Client {
	return cache.NewClient(cache.Config{Addr: "127.0.0.1:1"}, "mev:")
}

func testService() *Service {
	routers := map[string]models.Venue{
		models.NormalizeAddress(testVenue.Router): testVenue,
	}
	return NewService("ws://127.0.0.1:1", nil, downCache(), routers, 300*time.Second, nil)
}

func TestEnrichContractCreation(t *testing.T) {
	svc := testService()

	tx := types.NewContractCreation(7, big.NewInt(0), 100000, big.NewInt(25e9), []byte{0x60, 0x80})
	rec := svc.enrich(tx.Hash().Hex(), tx)

	require.Equal(t, tx.Hash().Hex(), rec.Hash)
	require.Empty(t, rec.To)
	require.Nil(t, rec.Swap)
	require.False(t, rec.IsSwap())
	require.Equal(t, uint64(7), rec.Nonce)
}

func TestEnrichDecodesRouterSwap(t *testing.T) {
	svc := testService()

	data, err := abis.V2Router.Pack("swapExactTokensForTokens",
		new(big.Int).SetUint64(1e18), big.NewInt(0),
		[]common.Address{wavax, usdc}, self, big.NewInt(1900000000))
	require.NoError(t, err)

	router := common.HexToAddress(testVenue.Router)
	tx := types.NewTransaction(1, router, big.NewInt(0), 300000, big.NewInt(25e9), data)

	rec := svc.enrich(tx.Hash().Hex(), tx)
	require.NotNil(t, rec.Swap)
	require.True(t, rec.IsSwap())
	require.Equal(t, models.NormalizeAddress(wavax.Hex()), rec.Swap.TokenIn)
	require.Equal(t, models.NormalizeAddress(usdc.Hex()), rec.Swap.TokenOut)
	require.Equal(t, new(big.Int).SetUint64(1e18), rec.Swap.AmountIn)
}

func TestEnrichMalformedCalldataStoresBare(t *testing.T) {
	svc := testService()

	router := common.HexToAddress(testVenue.Router)
	tx := types.NewTransaction(1, router, big.NewInt(0), 300000, big.NewInt(25e9), []byte{0x01, 0x02})

	rec := svc.enrich(tx.Hash().Hex(), tx)
	require.Nil(t, rec.Swap)
	require.Equal(t, models.NormalizeAddress(testVenue.Router), rec.To)
}

func TestDedupWholesaleClear(t *testing.T) {
	svc := testService()

	for i := 0; i < maxDedupEntries; i++ {
		svc.recordSeen(fmt.Sprintf("0x%064x", i))
	}
	require.Equal(t, maxDedupEntries, svc.DedupSize())

	// The next record triggers the wholesale clear.
	svc.recordSeen("0xffff")
	require.Equal(t, 1, svc.DedupSize())
}

func TestGetPendingSwapsCacheDown(t *testing.T) {
	svc := testService()

	swaps := svc.GetPendingSwaps(context.Background(), 10)
	require.Empty(t, swaps)
}

func TestPublishCacheDownDoesNotPanic(t *testing.T) {
	svc := testService()

	rec := &models.PendingTx{
		Hash:  "0xabc",
		Value: big.NewInt(0),
		Swap:  &models.DecodedSwap{IsSwap: true},
	}
	svc.publish(context.Background(), rec)
}
