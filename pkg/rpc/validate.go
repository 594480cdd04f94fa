package rpc

import (
	"encoding/json"
	"fmt"
)

// methodSpec is the per-method shape check applied before dispatch plus
// the fallback result synthesized when the check fails or retries are
// exhausted. Predictably-invalid requests never reach the wire, so they
// never consume rate budget.
type methodSpec struct {
	validate func(params []any) error
	fallback json.RawMessage
}

var (
	nullResult  = json.RawMessage(`null`)
	emptyList   = json.RawMessage(`[]`)
	zeroResult  = json.RawMessage(`0`)
	emptyObject = json.RawMessage(`{}`)
)

func exactly(n int) func([]any) error {
	return func(params []any) error {
		if len(params) != n {
			return fmt.Errorf("want %d params, got %d", n, len(params))
		}
		return nil
	}
}

func atMost(n int) func([]any) error {
	return func(params []any) error {
		if len(params) > n {
			return fmt.Errorf("want at most %d params, got %d", n, len(params))
		}
		return nil
	}
}

func nonEmptyString(params []any) error {
	if len(params) < 1 {
		return fmt.Errorf("missing required string param")
	}
	s, ok := params[0].(string)
	if !ok || s == "" {
		return fmt.Errorf("param 0 must be a non-empty string")
	}
	return nil
}

// addressesArg validates the {"addresses": [...]} object taken by the
// address-index methods.
func addressesArg(params []any) error {
	if len(params) != 1 {
		return fmt.Errorf("want 1 param, got %d", len(params))
	}
	m, ok := params[0].(map[string]any)
	if !ok {
		if arg, isArg := params[0].(AddressesArg); isArg {
			if len(arg.Addresses) == 0 {
				return fmt.Errorf("addresses list is empty")
			}
			return nil
		}
		return fmt.Errorf("param 0 must be an addresses object")
	}
	addrs, ok := m["addresses"].([]string)
	if !ok || len(addrs) == 0 {
		if anyAddrs, isAny := m["addresses"].([]any); !isAny || len(anyAddrs) == 0 {
			return fmt.Errorf("addresses list is empty")
		}
	}
	return nil
}

// AddressesArg is the wire shape of the address-index method argument.
type AddressesArg struct {
	Addresses []string `json:"addresses"`
}

func txidParam(params []any) error {
	if err := nonEmptyString(params); err != nil {
		return err
	}
	txid := params[0].(string)
	if len(txid) != 64 {
		return fmt.Errorf("txid must be 64 hex chars, got %d", len(txid))
	}
	return nil
}

var methodSpecs = map[string]methodSpec{
	"getinfo":           {validate: exactly(0), fallback: emptyObject},
	"getblockcount":     {validate: exactly(0), fallback: zeroResult},
	"getidentity":       {validate: nonEmptyString, fallback: nullResult},
	"getaddresstxids":   {validate: addressesArg, fallback: emptyList},
	"getaddressbalance": {validate: addressesArg, fallback: nullResult},
	"getaddressdeltas":  {validate: addressesArg, fallback: emptyList},
	"getrawtransaction": {validate: txidParam, fallback: nullResult},
	"getblock":          {validate: nonEmptyString, fallback: nullResult},
	"getrawmempool":     {validate: atMost(1), fallback: emptyList},
}

// fallbackFor returns the best-effort result for a method after the
// gateway has given up on the wire.
func fallbackFor(method string) json.RawMessage {
	if spec, ok := methodSpecs[method]; ok {
		return spec.fallback
	}
	return nullResult
}

// validateParams runs the method's shape check if one is registered.
func validateParams(method string, params []any) error {
	spec, ok := methodSpecs[method]
	if !ok || spec.validate == nil {
		return nil
	}
	return spec.validate(params)
}
