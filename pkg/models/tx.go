package models

import (
	"math/big"
	"time"
)

// DecodedSwap is the parsed router call carried by a pending transaction.
// Present only when the recipient matched a known router and the calldata
// parsed against that router's family ABI.
type DecodedSwap struct {
	Router       string   `json:"router"`
	Function     string   `json:"function"`
	Args         []string `json:"args,omitempty"`
	IsSwap       bool     `json:"is_swap"`
	TokenIn      string   `json:"token_in,omitempty"`
	TokenOut     string   `json:"token_out,omitempty"`
	AmountIn     *big.Int `json:"amount_in,omitempty"`
	AmountOutMin *big.Int `json:"amount_out_min,omitempty"`
	Path         []string `json:"path,omitempty"`
}

// PendingTx is an enriched mempool transaction. Written once, never mutated;
// expires from the cache by TTL. To is empty for contract creation.
type PendingTx struct {
	Hash                 string       `json:"hash"`
	From                 string       `json:"from"`
	To                   string       `json:"to,omitempty"`
	Value                *big.Int     `json:"value"`
	Gas                  uint64       `json:"gas"`
	GasPrice             *big.Int     `json:"gas_price,omitempty"`
	MaxFeePerGas         *big.Int     `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *big.Int     `json:"max_priority_fee_per_gas,omitempty"`
	Nonce                uint64       `json:"nonce"`
	Input                string       `json:"input"`
	IngestedAt           time.Time    `json:"ingested_at"`
	BlockNumber          uint64       `json:"block_number,omitempty"`
	Swap                 *DecodedSwap `json:"swap,omitempty"`
}

// IsSwap reports whether the transaction carries a decoded swap call.
func (t *PendingTx) IsSwap() bool {
	return t.Swap != nil && t.Swap.IsSwap
}
