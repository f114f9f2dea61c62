package mempool

import (
	"fmt"
	"math/big"
	"strings"

	"mevpipe/pkg/abis"
	"mevpipe/pkg/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Decoder parses router calldata into swap metadata. Handlers are selected by
// the venue's protocol family; constant-product V2 is currently the only
// family.
type Decoder struct {
	byFamily map[models.ProtocolFamily]*abi.ABI
}

// NewDecoder creates a decoder covering all known protocol families.
func NewDecoder() *Decoder {
	v2 := abis.V2Router
	return &Decoder{
		byFamily: map[models.ProtocolFamily]*abi.ABI{
			models.FamilyConstantProductV2: &v2,
		},
	}
}

// Decode parses calldata sent to a venue's router. value is the transaction's
// native value, which is the input amount for native-in swap variants.
func (d *Decoder) Decode(venue models.Venue, value *big.Int, data []byte) (*models.DecodedSwap, error) {
	routerABI, ok := d.byFamily[venue.Family]
	if !ok {
		return nil, fmt.Errorf("unknown protocol family %q", venue.Family)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}

	method, err := routerABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown selector %x: %w", data[:4], err)
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpacking %s arguments: %w", method.Name, err)
	}

	swap := &models.DecodedSwap{
		Router:   venue.Router,
		Function: method.Name,
		IsSwap:   strings.Contains(strings.ToLower(method.Name), "swap"),
	}
	for _, a := range args {
		swap.Args = append(swap.Args, fmt.Sprintf("%v", a))
	}
	if !swap.IsSwap {
		return swap, nil
	}

	var path []common.Address
	switch method.Name {
	case "swapExactAVAXForTokens":
		// (amountOutMin, path, to, deadline), input is the tx value
		swap.AmountIn = value
		swap.AmountOutMin, _ = args[0].(*big.Int)
		path, _ = args[1].([]common.Address)

	case "swapAVAXForExactTokens":
		// (amountOut, path, to, deadline), max input is the tx value
		swap.AmountIn = value
		swap.AmountOutMin, _ = args[0].(*big.Int)
		path, _ = args[1].([]common.Address)

	case "swapExactTokensForAVAX", "swapExactTokensForTokens":
		// (amountIn, amountOutMin, path, to, deadline)
		swap.AmountIn, _ = args[0].(*big.Int)
		swap.AmountOutMin, _ = args[1].(*big.Int)
		path, _ = args[2].([]common.Address)

	case "swapTokensForExactAVAX", "swapTokensForExactTokens":
		// (amountOut, amountInMax, path, to, deadline)
		swap.AmountOutMin, _ = args[0].(*big.Int)
		swap.AmountIn, _ = args[1].(*big.Int)
		path, _ = args[2].([]common.Address)

	default:
		return nil, fmt.Errorf("unhandled swap variant %s", method.Name)
	}

	if len(path) < 2 {
		return nil, fmt.Errorf("invalid path length: %d", len(path))
	}

	for _, addr := range path {
		swap.Path = append(swap.Path, models.NormalizeAddress(addr.Hex()))
	}
	swap.TokenIn = swap.Path[0]
	swap.TokenOut = swap.Path[len(swap.Path)-1]

	return swap, nil
}
