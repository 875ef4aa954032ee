package engine_v1

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rxtech-lab/argo-spot/internal/exchange"
	"github.com/rxtech-lab/argo-spot/internal/logger"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
	"go.uber.org/zap"
)

// ExecutorConfig holds the retry tunables.
type ExecutorConfig struct {
	// MaxAttempts bounds retryable failures per operation
	MaxAttempts int
	// BackoffBase is the initial retry interval
	BackoffBase time.Duration
	// BackoffMax caps the retry interval
	BackoffMax time.Duration
}

// OrderExecutor turns approved decisions into exchange orders. It owns
// retry with backoff and routes every gateway call through the circuit
// breaker; transient errors never surface past it unless retries are
// exhausted.
type OrderExecutor struct {
	gateway exchange.Gateway
	breaker *CircuitBreaker
	config  ExecutorConfig
	logger  *logger.Logger
}

// NewOrderExecutor creates an executor over the given gateway and breaker.
func NewOrderExecutor(gateway exchange.Gateway, breaker *CircuitBreaker, config ExecutorConfig, log *logger.Logger) *OrderExecutor {
	return &OrderExecutor{
		gateway: gateway,
		breaker: breaker,
		config:  config,
		logger:  log,
	}
}

// ExecuteOrder places the order, retrying retryable failures with
// exponential backoff and jitter. Terminal errors propagate immediately;
// exhausted retries return ErrCodeRetriesExhausted; an error after the
// request may have reached the exchange returns ErrCodeAmbiguousState so
// reconciliation can resolve the true outcome.
func (e *OrderExecutor) ExecuteOrder(ctx context.Context, req exchange.CreateOrderRequest) (types.Order, error) {
	var placed types.Order

	attempts := 0

	operation := func() error {
		attempts++

		err := e.breaker.Execute(func() error {
			order, createErr := e.gateway.CreateOrder(ctx, req)
			if createErr != nil {
				return createErr
			}

			placed = order

			return nil
		})
		if err == nil {
			return nil
		}

		if errors.HasCode(err, errors.ErrCodeCircuitOpen) || errors.IsTerminal(err) {
			return backoff.Permanent(err)
		}

		if errors.IsRetryable(err) {
			e.logger.Warn("Order placement failed, will retry",
				zap.String("symbol", req.Symbol),
				zap.String("client_order_id", req.ClientOrderID),
				zap.Int("attempt", attempts),
				zap.Error(err))

			return err
		}

		// Unknown failure mode after the request went out; the order may
		// or may not exist on the exchange.
		return backoff.Permanent(errors.Wrap(errors.ErrCodeAmbiguousState,
			"order outcome unknown", err))
	}

	err := backoff.Retry(operation, e.newBackOff(ctx))
	if err != nil {
		// backoff unwraps Permanent errors; only retryable failures that
		// ran out of attempts get reclassified here.
		if errors.IsRetryable(err) {
			return types.Order{}, errors.Wrapf(errors.ErrCodeRetriesExhausted, err,
				"order placement failed after %d attempts", attempts)
		}

		return types.Order{}, err
	}

	e.logger.Info("Order placed",
		zap.String("symbol", placed.Symbol),
		zap.String("side", string(placed.Side)),
		zap.Float64("amount", placed.Amount),
		zap.String("order_id", placed.ID))

	return placed, nil
}

// CheckOrderStatus fetches the exchange view of the order and folds it
// into the local record. Partial fills update filled/remaining and keep
// the order open; a closed order with filled==amount becomes FILLED.
func (e *OrderExecutor) CheckOrderStatus(ctx context.Context, order types.Order) (types.Order, error) {
	if order.ExchangeOrderID.IsNone() {
		return order, errors.Newf(errors.ErrCodeOrderNotFound,
			"order %s was never placed on the exchange", order.ID)
	}

	var remote types.Order

	err := e.breaker.Execute(func() error {
		fetched, fetchErr := e.gateway.FetchOrder(ctx, order.ExchangeOrderID.Unwrap(), order.Symbol)
		if fetchErr != nil {
			return fetchErr
		}

		remote = fetched

		return nil
	})
	if err != nil {
		return order, err
	}

	updated := order
	updated.Status = remote.Status
	updated.FilledAmount = remote.FilledAmount
	updated.RemainingAmount = remote.RemainingAmount
	updated.Fee = remote.Fee

	if remote.Status == types.OrderStatusFilled && updated.FilledAmount == 0 {
		updated.FilledAmount = updated.Amount
		updated.RemainingAmount = 0
	}

	if updated.Status == types.OrderStatusOpen && updated.FilledAmount > 0 {
		e.logger.Info("Partial fill",
			zap.String("order_id", updated.ID),
			zap.Float64("filled", updated.FilledAmount),
			zap.Float64("remaining", updated.RemainingAmount))
	}

	return updated, nil
}

// CancelOrder cancels the order on the exchange. Cancelling an order that
// is already terminal, or that the exchange no longer knows, is a no-op
// success.
func (e *OrderExecutor) CancelOrder(ctx context.Context, order types.Order) error {
	if order.Status.IsTerminal() {
		return nil
	}

	if order.ExchangeOrderID.IsNone() {
		return nil
	}

	err := e.breaker.Execute(func() error {
		return e.gateway.CancelOrder(ctx, order.ExchangeOrderID.Unwrap(), order.Symbol)
	})
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeOrderNotFound) {
			e.logger.Debug("Cancel was a no-op, order already gone",
				zap.String("order_id", order.ID))

			return nil
		}

		return err
	}

	e.logger.Info("Order cancelled", zap.String("order_id", order.ID))

	return nil
}

func (e *OrderExecutor) newBackOff(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.config.BackoffBase
	policy.MaxInterval = e.config.BackoffMax
	policy.MaxElapsedTime = 0

	maxRetries := uint64(0)
	if e.config.MaxAttempts > 1 {
		maxRetries = uint64(e.config.MaxAttempts - 1)
	}

	return backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx)
}
