package models

import "math/big"

// TxRequest is one transaction inside a bundle, before signing.
type TxRequest struct {
	To    string   `json:"to"`
	Value *big.Int `json:"value"`
	Data  []byte   `json:"data"`
	Gas   uint64   `json:"gas"`
}

// Bundle is an ordered, nonce-consecutive sequence of transactions replayed
// against the sandbox. Constructed per simulation; not persisted.
type Bundle struct {
	Txs            []TxRequest `json:"txs"`
	ExpectedProfit *big.Int    `json:"expected_profit"`
	Description    string      `json:"description"`
}

// SimulationResult reports one bundle replay. Profit is signed, in native
// token wei.
type SimulationResult struct {
	Success         bool     `json:"success"`
	GasUsed         uint64   `json:"gas_used"`
	Profit          *big.Int `json:"profit"`
	Error           string   `json:"error,omitempty"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
}
