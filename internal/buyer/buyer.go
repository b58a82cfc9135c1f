// Package buyer runs the top-level purchase loop: wait for the scheduled
// start, authenticate once, poll stock until it appears, hand the hit to
// the checkout engine, and stop on the first submitted order.
package buyer

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wrenhold/jdbuyer/internal/auth"
	"github.com/wrenhold/jdbuyer/internal/item"
)

type Inspector interface {
	Inspect(sku string) item.Snapshot
	CheckStock(sku string, qty int, areaID string) bool
}

type Engine interface {
	TrySubmitOrder(snap item.Snapshot, qty int, areaID string, retries int, interval time.Duration) bool
}

type Authenticator interface {
	Login(kind auth.Kind, phone string) bool
}

type Notifier interface {
	Notify(title, message string)
}

// ErrLoginFailed ends a run; the orchestrator never retries
// authentication on its own — the operator restarts.
var ErrLoginFailed = errors.New("login failed")

type Buyer struct {
	auth     Authenticator
	items    Inspector
	engine   Engine
	notifier Notifier

	sleep func(time.Duration)
	now   func() time.Time
}

type Option func(*Buyer)

func WithNotifier(n Notifier) Option {
	return func(b *Buyer) { b.notifier = n }
}

func withClock(sleep func(time.Duration), now func() time.Time) Option {
	return func(b *Buyer) {
		b.sleep = sleep
		b.now = now
	}
}

func New(a Authenticator, items Inspector, engine Engine, opts ...Option) *Buyer {
	b := &Buyer{
		auth:   a,
		items:  items,
		engine: engine,
		sleep:  time.Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type Params struct {
	SkuID  string
	AreaID string
	Amount int

	StockInterval  time.Duration
	SubmitRetry    int
	SubmitInterval time.Duration

	// BuyTime is when the watch begins; zero or past means immediately.
	BuyTime time.Time

	LoginKind auth.Kind
	Phone     string
}

// Run drives the state machine to completion: Scheduled, Authenticating,
// then the Watching/Submitting loop until an order lands. The watch is
// deliberately unbounded; the operator terminates the process.
func (b *Buyer) Run(p Params) error {
	b.waitForStart(p.BuyTime)

	if !b.auth.Login(p.LoginKind, p.Phone) {
		return ErrLoginFailed
	}

	snap := b.items.Inspect(p.SkuID)

	for {
		if !b.items.CheckStock(p.SkuID, p.Amount, p.AreaID) {
			log.Info().
				Str("sku", p.SkuID).
				Dur("next_check", p.StockInterval).
				Msg("no stock yet")
			b.sleep(p.StockInterval)
			continue
		}

		log.Info().Str("sku", p.SkuID).Msg("stock found, submitting")
		if b.engine.TrySubmitOrder(snap, p.Amount, p.AreaID, p.SubmitRetry, p.SubmitInterval) {
			if b.notifier != nil {
				b.notifier.Notify("jdbuyer", "order submitted, pay for it promptly")
			}
			return nil
		}

		// A failed submit after a positive stock signal usually means the
		// signal was stale; go back to watching.
		log.Warn().Str("sku", p.SkuID).Msg("submission round failed, resuming the watch")
		b.sleep(p.StockInterval)
	}
}

// waitForStart is the one-shot scheduled-start timer.
func (b *Buyer) waitForStart(at time.Time) {
	if at.IsZero() {
		return
	}
	wait := at.Sub(b.now())
	if wait <= 0 {
		log.Info().Time("buy_time", at).Msg("scheduled start already passed, starting now")
		return
	}
	log.Info().Time("buy_time", at).Dur("wait", wait).Msg("waiting for the scheduled start")
	b.sleep(wait)
}
