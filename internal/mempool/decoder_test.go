package mempool

import (
	"math/big"
	"testing"

	"mevpipe/pkg/abis"
	"mevpipe/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var testVenue = models.Venue{
	Name:    "traderjoe",
	Factory: "0x9Ad6C38BE94206cA50bb0d90783181662f0Cfa10",
	Router:  "0x60aE616a2155Ee3d9A68541Ba4544862310933d4",
	Family:  models.FamilyConstantProductV2,
}

var (
	wavax = common.HexToAddress("0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7")
	usdc  = common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E")
	self  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func TestDecodeSwapExactTokensForTokens_RoundTrip(t *testing.T) {
	decoder := NewDecoder()

	amountIn := new(big.Int).SetUint64(1e18)
	amountOutMin := big.NewInt(0)
	deadline := big.NewInt(1900000000)
	path := []common.Address{wavax, usdc}

	data, err := abis.V2Router.Pack("swapExactTokensForTokens",
		amountIn, amountOutMin, path, self, deadline)
	require.NoError(t, err)

	swap, err := decoder.Decode(testVenue, big.NewInt(0), data)
	require.NoError(t, err)
	require.NotNil(t, swap)

	require.True(t, swap.IsSwap)
	require.Equal(t, "swapExactTokensForTokens", swap.Function)
	require.Len(t, swap.Args, 5)
	require.Equal(t, amountIn, swap.AmountIn)
	// Compare by value: a decoded zero and big.NewInt(0) differ internally.
	require.Equal(t, amountOutMin.String(), swap.AmountOutMin.String())
	require.Equal(t, []string{
		models.NormalizeAddress(wavax.Hex()),
		models.NormalizeAddress(usdc.Hex()),
	}, swap.Path)
	require.Equal(t, swap.Path[0], swap.TokenIn)
	require.Equal(t, swap.Path[len(swap.Path)-1], swap.TokenOut)
}

func TestDecodeSwapExactAVAXForTokens_ValueIsInput(t *testing.T) {
	decoder := NewDecoder()

	value := new(big.Int).SetUint64(5e17)
	data, err := abis.V2Router.Pack("swapExactAVAXForTokens",
		big.NewInt(0), []common.Address{wavax, usdc}, self, big.NewInt(1900000000))
	require.NoError(t, err)

	swap, err := decoder.Decode(testVenue, value, data)
	require.NoError(t, err)

	require.True(t, swap.IsSwap)
	require.Equal(t, "swapExactAVAXForTokens", swap.Function)
	require.Equal(t, value, swap.AmountIn)
	require.Equal(t, models.NormalizeAddress(wavax.Hex()), swap.TokenIn)
	require.Equal(t, models.NormalizeAddress(usdc.Hex()), swap.TokenOut)
}

func TestDecodeSwapTokensForExactAVAX_MaxInput(t *testing.T) {
	decoder := NewDecoder()

	amountOut := new(big.Int).SetUint64(1e18)
	amountInMax := new(big.Int).SetUint64(43e6)
	data, err := abis.V2Router.Pack("swapTokensForExactAVAX",
		amountOut, amountInMax, []common.Address{usdc, wavax}, self, big.NewInt(1900000000))
	require.NoError(t, err)

	swap, err := decoder.Decode(testVenue, big.NewInt(0), data)
	require.NoError(t, err)

	require.Equal(t, amountInMax, swap.AmountIn)
	require.Equal(t, amountOut, swap.AmountOutMin)
	require.Equal(t, models.NormalizeAddress(usdc.Hex()), swap.TokenIn)
	require.Equal(t, models.NormalizeAddress(wavax.Hex()), swap.TokenOut)
}

func TestDecodeUnknownSelector(t *testing.T) {
	decoder := NewDecoder()

	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x00}
	_, err := decoder.Decode(testVenue, big.NewInt(0), data)
	require.Error(t, err)
}

func TestDecodeShortCalldata(t *testing.T) {
	decoder := NewDecoder()

	_, err := decoder.Decode(testVenue, big.NewInt(0), []byte{0x38})
	require.Error(t, err)
}

func TestDecodeUnknownFamily(t *testing.T) {
	decoder := NewDecoder()

	venue := testVenue
	venue.Family = "concentrated-v3"
	data, err := abis.V2Router.Pack("swapExactTokensForTokens",
		big.NewInt(1), big.NewInt(0), []common.Address{wavax, usdc}, self, big.NewInt(1900000000))
	require.NoError(t, err)

	_, err = decoder.Decode(venue, big.NewInt(0), data)
	require.Error(t, err)
}
