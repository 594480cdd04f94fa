package rpc

import "encoding/json"

// --- Wire envelope

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// --- Typed results, one shape per method so downstream code never
// pattern-matches on untyped data.

// IdentityResult is the result of getidentity.
type IdentityResult struct {
	Identity    IdentityDetail `json:"identity"`
	Status      string         `json:"status"`
	BlockHeight int64          `json:"blockheight"`
	TxID        string         `json:"txid"`
}

type IdentityDetail struct {
	Name             string   `json:"name"`
	FriendlyName     string   `json:"friendlyname"`
	IdentityAddress  string   `json:"identityaddress"`
	Parent           string   `json:"parent"`
	PrimaryAddresses []string `json:"primaryaddresses"`
}

// AddressDelta is one entry of getaddressdeltas: a signed balance
// change for the address, in smallest units, in height order.
type AddressDelta struct {
	Satoshis int64  `json:"satoshis"`
	TxID     string `json:"txid"`
	Index    int    `json:"index"`
	Height   int64  `json:"height"`
	Address  string `json:"address"`
}

// AddressBalance is the result of getaddressbalance.
type AddressBalance struct {
	Balance  int64 `json:"balance"`
	Received int64 `json:"received"`
}

// RawTransaction is the verbose result of getrawtransaction.
type RawTransaction struct {
	TxID          string `json:"txid"`
	BlockHash     string `json:"blockhash"`
	BlockTime     int64  `json:"blocktime"`
	Time          int64  `json:"time"`
	Height        int64  `json:"height"`
	Confirmations int64  `json:"confirmations"`
	Vin           []Vin  `json:"vin"`
	Vout          []Vout `json:"vout"`
}

type Vin struct {
	Coinbase string `json:"coinbase"`
	TxID     string `json:"txid"`
	Vout     int    `json:"vout"`
}

type Vout struct {
	// Value is in coins on the wire; see indexer amount normalization
	// for the conversion to smallest units.
	Value        float64      `json:"value"`
	N            int          `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

type ScriptPubKey struct {
	Addresses []string `json:"addresses"`
}

// IsCoinbase reports whether the transaction is the block's
// reward-producing transaction.
func (t *RawTransaction) IsCoinbase() bool {
	for _, in := range t.Vin {
		if in.Coinbase != "" {
			return true
		}
	}
	return false
}

// OutputsPaying returns the outputs whose script pays the given address.
func (t *RawTransaction) OutputsPaying(address string) []Vout {
	var outs []Vout
	for _, out := range t.Vout {
		for _, a := range out.ScriptPubKey.Addresses {
			if a == address {
				outs = append(outs, out)
				break
			}
		}
	}
	return outs
}

// Block is the result of getblock (verbosity 1).
type Block struct {
	Hash           string   `json:"hash"`
	Height         int64    `json:"height"`
	Time           int64    `json:"time"`
	ValidationType string   `json:"validationtype"` // "work" | "stake"
	Tx             []string `json:"tx"`
}

// IsStakeReward reports whether txid is the block's staking-reward
// transaction. Proof-of-stake blocks carry the coinstake as the last
// transaction.
func (b *Block) IsStakeReward(txid string) bool {
	if b == nil || b.ValidationType != "stake" || len(b.Tx) == 0 {
		return false
	}
	return b.Tx[len(b.Tx)-1] == txid
}

// Info is the result of getinfo; only the fields the backend reads.
type Info struct {
	Version         int64  `json:"version"`
	VersionString   string `json:"VRSCversion"`
	Blocks          int64  `json:"blocks"`
	Longestchain    int64  `json:"longestchain"`
	Connections     int64  `json:"connections"`
	Testnet         bool   `json:"testnet"`
	RelayFee        any    `json:"relayfee"`
	Errors          string `json:"errors"`
	ChainName       string `json:"name"`
	ProtocolVersion int64  `json:"protocolversion"`
}
