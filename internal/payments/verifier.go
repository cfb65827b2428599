package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/YetiPanda/jade-ecosystem-sub014/internal/services"
)

// ErrNotAuthorized indicates the referenced payment does not cover the order.
var ErrNotAuthorized = errors.New("payments: not authorized")

// Verifier confirms externally created payment intents against the amount a
// checkout computed server-side. It trusts the PSP, never the client.
type Verifier struct {
	manager *Manager
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// VerifierDeps wires the Verifier collaborators.
type VerifierDeps struct {
	Manager *Manager
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewVerifier constructs a Verifier over the payment manager.
func NewVerifier(deps VerifierDeps) (*Verifier, error) {
	if deps.Manager == nil {
		return nil, errors.New("payments verifier: manager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Verifier{
		manager: deps.Manager,
		logger:  logger,
	}, nil
}

// VerifyAuthorization looks up the payment intent at the PSP and confirms it
// is authorized or captured for at least the requested amount in the same
// currency.
func (v *Verifier) VerifyAuthorization(ctx context.Context, auth services.PaymentAuthorization) error {
	if v == nil || v.manager == nil {
		return errors.New("payments verifier: not initialised")
	}
	intentID := strings.TrimSpace(auth.IntentID)
	if intentID == "" {
		return fmt.Errorf("%w: missing payment intent", ErrNotAuthorized)
	}

	details, err := v.manager.LookupPayment(ctx, PaymentContext{
		PreferredProvider: auth.Provider,
		Currency:          auth.Currency,
	}, LookupRequest{IntentID: intentID})
	if err != nil {
		return fmt.Errorf("payments verifier: lookup %s: %w", intentID, err)
	}

	switch details.Status {
	case StatusSucceeded, StatusAuthorized:
	default:
		return fmt.Errorf("%w: intent %s has status %s", ErrNotAuthorized, intentID, details.Status)
	}

	wantCurrency := strings.ToUpper(strings.TrimSpace(auth.Currency))
	if wantCurrency != "" && details.Currency != wantCurrency {
		return fmt.Errorf("%w: intent %s is in %s, order is in %s", ErrNotAuthorized, intentID, details.Currency, wantCurrency)
	}
	if details.Amount < auth.Amount {
		return fmt.Errorf("%w: intent %s covers %d, order total is %d", ErrNotAuthorized, intentID, details.Amount, auth.Amount)
	}

	v.logger(ctx, "payments.authorization.verified", map[string]any{
		"intentId": intentID,
		"provider": details.Provider,
		"amount":   details.Amount,
	})
	return nil
}

var _ services.PaymentVerifier = (*Verifier)(nil)
