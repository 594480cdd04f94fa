package rpc

import (
	"bytes"
	"context"
	"encoding/json"
)

// Typed wrappers: one per daemon method the backend uses, so callers
// work with concrete result shapes validated at the gateway boundary.

func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	raw, err := c.Call(ctx, "getinfo")
	out := &Info{}
	if uerr := unmarshalResult("getinfo", raw, out); uerr != nil && err == nil {
		err = uerr
	}
	return out, err
}

func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	raw, err := c.Call(ctx, "getblockcount")
	var count int64
	if uerr := unmarshalResult("getblockcount", raw, &count); uerr != nil && err == nil {
		err = uerr
	}
	return count, err
}

// GetIdentity resolves a canonical identity name ("name@"). A nil
// result with a non-nil error is the fallback.
func (c *Client) GetIdentity(ctx context.Context, name string) (*IdentityResult, error) {
	raw, err := c.Call(ctx, "getidentity", name)
	if isNull(raw) {
		if err == nil {
			err = &Error{Kind: KindPermanent, Method: "getidentity", Message: "identity not found"}
		}
		return nil, err
	}
	out := &IdentityResult{}
	if uerr := unmarshalResult("getidentity", raw, out); uerr != nil {
		if err == nil {
			err = uerr
		}
		return nil, err
	}
	return out, err
}

func (c *Client) GetAddressTxIDs(ctx context.Context, addresses []string) ([]string, error) {
	raw, err := c.Call(ctx, "getaddresstxids", AddressesArg{Addresses: addresses})
	txids := []string{}
	if uerr := unmarshalResult("getaddresstxids", raw, &txids); uerr != nil && err == nil {
		err = uerr
	}
	return txids, err
}

// GetAddressDeltas lists the address's balance changes oldest-first,
// without fetching the transactions themselves.
func (c *Client) GetAddressDeltas(ctx context.Context, addresses []string) ([]AddressDelta, error) {
	raw, err := c.Call(ctx, "getaddressdeltas", AddressesArg{Addresses: addresses})
	deltas := []AddressDelta{}
	if uerr := unmarshalResult("getaddressdeltas", raw, &deltas); uerr != nil && err == nil {
		err = uerr
	}
	return deltas, err
}

func (c *Client) GetAddressBalance(ctx context.Context, addresses []string) (*AddressBalance, error) {
	raw, err := c.Call(ctx, "getaddressbalance", AddressesArg{Addresses: addresses})
	if isNull(raw) {
		return nil, err
	}
	out := &AddressBalance{}
	if uerr := unmarshalResult("getaddressbalance", raw, out); uerr != nil {
		if err == nil {
			err = uerr
		}
		return nil, err
	}
	return out, err
}

// GetRawTransaction fetches the verbose decoded transaction.
func (c *Client) GetRawTransaction(ctx context.Context, txid string) (*RawTransaction, error) {
	raw, err := c.Call(ctx, "getrawtransaction", txid, 1)
	if isNull(raw) {
		return nil, err
	}
	out := &RawTransaction{}
	if uerr := unmarshalResult("getrawtransaction", raw, out); uerr != nil {
		if err == nil {
			err = uerr
		}
		return nil, err
	}
	return out, err
}

func (c *Client) GetBlock(ctx context.Context, hash string) (*Block, error) {
	raw, err := c.Call(ctx, "getblock", hash)
	if isNull(raw) {
		return nil, err
	}
	out := &Block{}
	if uerr := unmarshalResult("getblock", raw, out); uerr != nil {
		if err == nil {
			err = uerr
		}
		return nil, err
	}
	return out, err
}

func (c *Client) GetRawMempool(ctx context.Context) ([]string, error) {
	raw, err := c.Call(ctx, "getrawmempool")
	txids := []string{}
	if uerr := unmarshalResult("getrawmempool", raw, &txids); uerr != nil && err == nil {
		err = uerr
	}
	return txids, err
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, nullResult)
}

func unmarshalResult(method string, raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindTransient, Method: method, Message: "unexpected result shape", Err: err}
	}
	return nil
}
