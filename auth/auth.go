// Package auth supplies credential tokens to the transport and the REST
// client.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/vzorr/chat-test-client-sub001/errors"
	"github.com/vzorr/chat-test-client-sub001/pkg/retry"
)

// Provider yields the current credential token for a user
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static is a Provider backed by a fixed token
type Static struct {
	token string
}

// NewStatic creates a Provider that always returns the given token
func NewStatic(token string) (*Static, error) {
	if token == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingToken, "Static", "NewStatic", "empty token")
	}
	return &Static{token: token}, nil
}

// Token returns the fixed token
func (s *Static) Token(context.Context) (string, error) {
	return s.token, nil
}

// Credential is a token with an expiry
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// FetchFunc obtains a fresh credential from the auth backend
type FetchFunc func(ctx context.Context) (Credential, error)

// Refreshing is a Provider that caches a credential and refreshes it before
// expiry. Concurrent callers share a single refresh.
type Refreshing struct {
	fetch  FetchFunc
	leeway time.Duration
	policy retry.Config

	mu      sync.Mutex
	current Credential
}

// NewRefreshing creates a refreshing Provider. leeway is how long before
// expiry the cached credential is considered stale.
func NewRefreshing(fetch FetchFunc, leeway time.Duration) (*Refreshing, error) {
	if fetch == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Refreshing", "NewRefreshing", "nil fetch func")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Refreshing{
		fetch:  fetch,
		leeway: leeway,
		policy: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		},
	}, nil
}

// Token returns the cached token, refreshing it when stale. The refresh is
// retried on transient failures.
func (r *Refreshing) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current.Token != "" && time.Now().Before(r.current.ExpiresAt.Add(-r.leeway)) {
		return r.current.Token, nil
	}

	cred, err := retry.DoWithResult(ctx, r.policy, func() (Credential, error) {
		cred, err := r.fetch(ctx)
		if err != nil {
			if errors.IsTransient(err) {
				return Credential{}, err
			}
			return Credential{}, retry.NonRetryable(err)
		}
		if cred.Token == "" {
			return Credential{}, retry.NonRetryable(
				errors.WrapInvalid(errors.ErrMissingToken, "Refreshing", "Token", "backend returned empty token"))
		}
		return cred, nil
	})
	if err != nil {
		return "", errors.WrapTransient(err, "Refreshing", "Token", "refresh credential")
	}

	r.current = cred
	return cred.Token, nil
}

// Invalidate drops the cached credential so the next Token call refreshes
func (r *Refreshing) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = Credential{}
}
