// Package resolver implements the Reference Resolver: the single
// public entry point that turns an auth:// reference URI into a live
// value, without the caller needing to know whether the credential is
// an OAuth access token or a static secret.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/sigilforge/sigilforge/internal/credential"
	"github.com/sigilforge/sigilforge/internal/secretstore"
	"github.com/sigilforge/sigilforge/internal/token"
)

// NotFoundError reports a reference that parsed correctly but whose
// value is absent from storage.
type NotFoundError struct {
	Reference string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("resolver: not found: %s", e.Reference) }

// Resolver dispatches auth:// references to the token manager (for
// access_token credentials) or to the secret store directly
// (everything else).
type Resolver struct {
	tokens  *token.Manager
	secrets secretstore.Store
}

// New constructs a Resolver over the given token manager and secret
// store.
func New(tokens *token.Manager, secrets secretstore.Store) *Resolver {
	return &Resolver{tokens: tokens, secrets: secrets}
}

// Resolve parses reference and returns its current value. access_token
// references are refresh-aware; everything else is a direct secret
// store read.
func (r *Resolver) Resolve(ctx context.Context, reference string) (string, error) {
	ref, err := parseReference(reference)
	if err != nil {
		return "", err
	}

	if ref.Type == credential.AccessToken {
		tok, err := r.tokens.EnsureAccessToken(ctx, ref.Service, ref.Account)
		if err != nil {
			return "", err
		}
		return tok.Value.RevealString(), nil
	}

	value, err := r.secrets.Get(ctx, ref.Key())
	if err != nil {
		if errors.Is(err, secretstore.ErrNotFound) {
			return "", &NotFoundError{Reference: reference}
		}
		return "", err
	}
	return value.RevealString(), nil
}

// ResolveBatch resolves each reference in order. There is no batch
// atomicity: a later failure does not undo earlier successes, and the
// result slice is positional with the input.
func (r *Resolver) ResolveBatch(ctx context.Context, references []string) ([]string, []error) {
	values := make([]string, len(references))
	errs := make([]error, len(references))
	for i, ref := range references {
		values[i], errs[i] = r.Resolve(ctx, ref)
	}
	return values, errs
}
