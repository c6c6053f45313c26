// Package retry decorates the brokerage gateway with bounded retries on
// transient failures. Order placement is deliberately NOT retried: a timeout
// after submission may mean the order is live, and a blind resubmit would
// double the position.
package retry

import (
	"context"
	"crypto/rand"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/dfalkner/autotrader/internal/broker"
)

// Config bounds the retry loop.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig retries read-class calls three times with jittered
// exponential backoff.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     15 * time.Second,
}

// Broker wraps a broker.Broker, retrying idempotent calls on transient
// errors.
type Broker struct {
	inner  broker.Broker
	logger *log.Logger
	config Config
}

// Wrap decorates b with retry behaviour.
func Wrap(b broker.Broker, logger *log.Logger, config ...Config) *Broker {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &Broker{inner: b, logger: logger, config: cfg}
}

var _ broker.Broker = (*Broker)(nil)

// IsConnected passes through; connection state is already cached.
func (r *Broker) IsConnected() bool { return r.inner.IsConnected() }

// OnConnectionChange passes through to the wrapped broker.
func (r *Broker) OnConnectionChange(cb func(connected bool)) { r.inner.OnConnectionChange(cb) }

// GetPositionsCtx retries transient gateway failures.
func (r *Broker) GetPositionsCtx(ctx context.Context) ([]broker.PositionItem, error) {
	return withRetry(ctx, r, "positions", func() ([]broker.PositionItem, error) {
		return r.inner.GetPositionsCtx(ctx)
	})
}

// SearchContract retries transient gateway failures.
func (r *Broker) SearchContract(ctx context.Context, ticker string) (*broker.Contract, error) {
	return withRetry(ctx, r, "contract search", func() (*broker.Contract, error) {
		return r.inner.SearchContract(ctx, ticker)
	})
}

// PlaceBracket submits exactly once; resubmitting after an ambiguous failure
// risks a duplicate order.
func (r *Broker) PlaceBracket(ctx context.Context, o broker.BracketOrder) (*broker.OrderResponse, error) {
	return r.inner.PlaceBracket(ctx, o)
}

// PlaceMarket submits exactly once, same as PlaceBracket.
func (r *Broker) PlaceMarket(ctx context.Context, o broker.MarketOrder) (*broker.OrderResponse, error) {
	return r.inner.PlaceMarket(ctx, o)
}

// CancelOrder retries; cancelling an already-cancelled order is harmless.
func (r *Broker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := withRetry(ctx, r, "cancel", func() (struct{}, error) {
		return struct{}{}, r.inner.CancelOrder(ctx, orderID)
	})
	return err
}

func withRetry[T any](ctx context.Context, r *Broker, label string, call func() (T, error)) (T, error) {
	var zero T
	backoff := r.config.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		out, err := call()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isTransientError(err) || attempt == r.config.MaxRetries {
			break
		}
		r.logger.Printf("Transient %s error (attempt %d/%d), retrying in %v: %v",
			label, attempt+1, r.config.MaxRetries+1, backoff, err)
		select {
		case <-time.After(backoff):
			backoff = r.nextBackoff(backoff)
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}

func (r *Broker) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > r.config.MaxBackoff {
		backoff = r.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
