package broker

import (
	"context"
	"log/slog"
	"time"
)

// Retrying decorates a Broker with linear-backoff retries for transient
// failures. Business rejections come back as a failed OrderResult with a nil
// error and are never retried; only errors marked transient are.
type Retrying struct {
	inner       Broker
	maxAttempts int
	baseDelay   time.Duration
	callTimeout time.Duration
	log         *slog.Logger
}

// NewRetrying wraps inner with retry behavior: up to maxAttempts tries with
// a delay of baseDelay * attempt between them, and a per-call timeout.
func NewRetrying(inner Broker, maxAttempts int, baseDelay, callTimeout time.Duration, log *slog.Logger) *Retrying {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retrying{
		inner:       inner,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		callTimeout: callTimeout,
		log:         log,
	}
}

func (r *Retrying) SupportsMarket(m Market) bool { return r.inner.SupportsMarket(m) }

// do runs fn up to maxAttempts times. Each attempt gets its own timeout.
// The backoff is linear: baseDelay * attempt number.
func do[T any](ctx context.Context, r *Retrying, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		v, err := fn(callCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return zero, err
		}
		lastErr = err
		if attempt == r.maxAttempts {
			break
		}

		delay := r.baseDelay * time.Duration(attempt)
		r.log.Warn("broker call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

func (r *Retrying) GetPrice(ctx context.Context, symbol string, m Market) (Price, error) {
	return do(ctx, r, "get_price", func(ctx context.Context) (Price, error) {
		return r.inner.GetPrice(ctx, symbol, m)
	})
}

func (r *Retrying) GetPositions(ctx context.Context, m Market) ([]Position, error) {
	return do(ctx, r, "get_positions", func(ctx context.Context) ([]Position, error) {
		return r.inner.GetPositions(ctx, m)
	})
}

func (r *Retrying) GetCashBalance(ctx context.Context) (CashBalance, error) {
	return do(ctx, r, "get_cash_balance", func(ctx context.Context) (CashBalance, error) {
		return r.inner.GetCashBalance(ctx)
	})
}

func (r *Retrying) Buy(ctx context.Context, symbol string, m Market, qty int64, limitPrice float64) (OrderResult, error) {
	return do(ctx, r, "buy", func(ctx context.Context) (OrderResult, error) {
		return r.inner.Buy(ctx, symbol, m, qty, limitPrice)
	})
}

func (r *Retrying) Sell(ctx context.Context, symbol string, m Market, qty int64, limitPrice float64) (OrderResult, error) {
	return do(ctx, r, "sell", func(ctx context.Context) (OrderResult, error) {
		return r.inner.Sell(ctx, symbol, m, qty, limitPrice)
	})
}

func (r *Retrying) Cancel(ctx context.Context, orderNo, symbol string, m Market, qty int64) (OrderResult, error) {
	return do(ctx, r, "cancel", func(ctx context.Context) (OrderResult, error) {
		return r.inner.Cancel(ctx, orderNo, symbol, m, qty)
	})
}
