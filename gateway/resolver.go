package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"splitpay-api/models"
)

// CredentialSource lists credentials that may own an incoming payment id
type CredentialSource interface {
	Active(ctx context.Context) ([]models.ProcessorCredential, error)
	Open(m models.ProcessorCredential) (Credential, error)
}

// Resolver re-verifies a payment id by trying each active credential in turn.
// A notification does not name its tenant, so the first credential set the
// processor accepts the id under is the owner.
type Resolver struct {
	source      CredentialSource
	registry    *Registry
	timeout     time.Duration
	maxAttempts int
	logger      *slog.Logger
}

func NewResolver(source CredentialSource, registry *Registry, timeout time.Duration, maxAttempts int, logger *slog.Logger) *Resolver {
	return &Resolver{
		source:      source,
		registry:    registry,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Verify fetches the payment from the processor. Credentials of preferOrg are
// tried first when non-zero.
func (r *Resolver) Verify(ctx context.Context, paymentID string, preferOrg uint) (*VerifiedPayment, Credential, error) {
	stored, err := r.source.Active(ctx)
	if err != nil {
		return nil, Credential{}, fmt.Errorf("list credentials: %w", err)
	}
	if preferOrg != 0 {
		sort.SliceStable(stored, func(i, j int) bool {
			return stored[i].OrganizationID == preferOrg && stored[j].OrganizationID != preferOrg
		})
	}
	if len(stored) > r.maxAttempts {
		stored = stored[:r.maxAttempts]
	}

	for _, m := range stored {
		if err := ctx.Err(); err != nil {
			return nil, Credential{}, err
		}
		g, err := r.registry.Get(m.Processor)
		if err != nil {
			continue
		}
		cred, err := r.source.Open(m)
		if err != nil {
			r.logger.Warn("skipping unreadable credential", "credential_id", m.ID, "error", err)
			continue
		}
		payment, err := r.fetch(ctx, g, cred, paymentID)
		if err == nil {
			return payment, cred, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) && !errors.Is(err, ErrUnauthorized) {
			r.logger.Warn("payment lookup failed",
				"payment_id", paymentID, "credential_id", m.ID, "processor", m.Processor, "error", err)
		}
	}
	return nil, Credential{}, fmt.Errorf("%w: %s", ErrUnresolved, paymentID)
}

// fetch retries once on transient failures; status lookups are idempotent
func (r *Resolver) fetch(ctx context.Context, g Gateway, cred Credential, paymentID string) (*VerifiedPayment, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		payment, err := g.FetchPayment(callCtx, cred, paymentID)
		cancel()
		if err == nil {
			return payment, nil
		}
		lastErr = err
		transient := errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
		if !transient || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
