package models

import (
	"fmt"
	"math/big"
	"time"
)

// PairDescriptor identifies one pool on one venue. Discovered once at startup
// and immutable thereafter. Token0/Token1 record the on-chain ordering, which
// is not assumed to match the configured (TokenA, TokenB) order.
type PairDescriptor struct {
	Venue       string `json:"venue"`
	TokenA      string `json:"token_a"`
	TokenB      string `json:"token_b"`
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	PairAddress string `json:"pair_address"`
}

// Key returns the stable identifier <venue>-<tokenA>-<tokenB>.
func (d *PairDescriptor) Key() string {
	return fmt.Sprintf("%s-%s-%s", d.Venue, NormalizeAddress(d.TokenA), NormalizeAddress(d.TokenB))
}

// PoolReserves is one observation of a pool's reserves. Records are replaced
// wholesale by the refresh loop, never mutated in place.
type PoolReserves struct {
	Pair        PairDescriptor `json:"pair"`
	Reserve0    *big.Int       `json:"reserve0"`
	Reserve1    *big.Int       `json:"reserve1"`
	BlockNumber uint64         `json:"block_number"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// Empty reports whether the pool holds no liquidity. Reserve0 and Reserve1 are
// either both zero or both positive; a half-empty pool is a protocol violation
// and is treated as empty.
func (r *PoolReserves) Empty() bool {
	if r.Reserve0 == nil || r.Reserve1 == nil {
		return true
	}
	return r.Reserve0.Sign() == 0 || r.Reserve1.Sign() == 0
}
