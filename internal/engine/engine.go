package engine

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/heymuze/muze/internal/delivery"
	"github.com/heymuze/muze/internal/llm"
	"github.com/heymuze/muze/internal/store"
)

// Engine decides whether, what, and when to proactively reach out to
// each user about their open loops, producing an approval queue of
// pending nudges rather than firing messages directly.
type Engine struct {
	DB       *store.DB
	LLM      llm.Client
	Delivery delivery.Sender

	StalenessDays int // days before an active loop counts as decaying
	LookaheadDays int // event scan window for dispatch
	MaxPerCycle   int // nudges created per user per cycle

	dispatchBusy atomic.Bool
	sendBusy     atomic.Bool
	stopCh       chan struct{}
}

// New creates an Engine with default thresholds. The LLM client and
// delivery sender may be nil; question generation then falls back to
// plain text and the send cycle refuses to run.
func New(db *store.DB, client llm.Client, sender delivery.Sender) *Engine {
	return &Engine{
		DB:            db,
		LLM:           client,
		Delivery:      sender,
		StalenessDays: 7,
		LookaheadDays: 2,
		MaxPerCycle:   3,
		stopCh:        make(chan struct{}),
	}
}

// Start runs the two periodic jobs: the dispatch runner at dispatchEvery
// and the approved-nudge sender at sendEvery. Both tickers stop when
// Stop is called. Overlapping runs of the same job are prevented by the
// per-job run guards inside the cycle methods.
func (e *Engine) Start(dispatchEvery, sendEvery time.Duration) {
	go func() {
		ticker := time.NewTicker(dispatchEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if res, err := e.RunDispatchCycle(context.Background()); err != nil {
					log.Printf("dispatch cycle: %v", err)
				} else {
					log.Printf("dispatch cycle: created=%d skipped=%d", res.Created, res.Skipped)
				}
			case <-e.stopCh:
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(sendEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if res, err := e.RunApprovedSendCycle(context.Background()); err != nil {
					log.Printf("send cycle: %v", err)
				} else if res.Sent > 0 || res.Failed > 0 {
					log.Printf("send cycle: sent=%d failed=%d", res.Sent, res.Failed)
				}
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines. In-flight cycles
// finish on their own; nudge creation is a single atomic insert, so
// shutdown never leaves one half-created.
func (e *Engine) Stop() {
	close(e.stopCh)
}
