// Package oracle answers whether a token exists on chain. The bridges treat
// it as their only chain dependency.
package oracle

import (
	"context"
	"errors"
)

// ErrUnavailable marks a transport failure: the oracle could not answer.
// It is distinct from a definite "does not exist".
var ErrUnavailable = errors.New("oracle: unavailable")

// TokenRef identifies a token on a specific network.
type TokenRef struct {
	TokenID         int64
	ContractAddress string
	NetworkID       int64
}

// Oracle reports token existence.
type Oracle interface {
	Exists(ctx context.Context, ref TokenRef) (bool, error)
}

// OwnerResolver is implemented by oracles that can also report the owner.
type OwnerResolver interface {
	OwnerOf(ctx context.Context, ref TokenRef) (string, error)
}

// Minimal accepts any positive token id. It is the offline default.
type Minimal struct{}

// Exists implements Oracle.
func (Minimal) Exists(ctx context.Context, ref TokenRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return ref.TokenID > 0, nil
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, ref TokenRef) (bool, error)

// Exists implements Oracle.
func (f Func) Exists(ctx context.Context, ref TokenRef) (bool, error) { return f(ctx, ref) }

// Owner resolves the owner through o when it supports it.
func Owner(ctx context.Context, o Oracle, ref TokenRef) (string, bool) {
	r, ok := o.(OwnerResolver)
	if !ok {
		return "", false
	}
	owner, err := r.OwnerOf(ctx, ref)
	if err != nil || owner == "" {
		return "", false
	}
	return owner, true
}
