package edudoc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edudocai/edudoc/internal/eventbus"
)

// routeCacheKey derives the cache key for a query. History is deliberately
// excluded: the class of a question does not depend on what was asked before,
// only the Router's filter extraction does, and cached decisions carry the
// filter from the first sighting.
func routeCacheKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "route:" + hex.EncodeToString(sum[:])
}

// CreateQueryStateMachine builds the state machine for one query pipeline:
// init -> routing -> dispatch -> complete, with error and cancelled as
// terminal escape states.
func CreateQueryStateMachine(router Router, dispatcher *Dispatcher, cache Cache, config Config, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInit, func(ctx context.Context, bus eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		if pCtx.Query == "" {
			return StateError, NewValidationError("init", "query must not be empty", nil)
		}
		return StateRouting, nil
	})

	sm.RegisterTransition(StateRouting, createRoutingTransition(router, cache, config))
	sm.RegisterTransition(StateDispatch, createDispatchTransition(dispatcher))

	return sm
}

// createRoutingTransition classifies the query. A decision is produced
// exactly once per query, on every path: cached, classified, or degraded.
func createRoutingTransition(router Router, cache Cache, config Config) StateTransition {
	return func(ctx context.Context, bus eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		publish(ctx, bus, eventbus.EventRoutingStarted, pCtx.Query, "StateRouting", nil)

		key := routeCacheKey(pCtx.Query)
		if cache != nil {
			if cached, ok := cache.Get(ctx, key); ok {
				if decision, ok := cached.(*RouteDecision); ok && decision.Class.Valid() {
					pCtx.Decision = decision
					publish(ctx, bus, eventbus.EventRoutingSuccess, decision, "StateRouting", map[string]any{"cached": true})
					return StateDispatch, nil
				}
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if config.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, config.CallTimeout)
			defer cancel()
		}

		decision, err := router.Classify(callCtx, pCtx.Query, pCtx.History)
		if err != nil {
			if ctx.Err() != nil {
				return StateCancelled, ctx.Err()
			}
			// Classification transport failure degrades to the cheapest
			// path rather than failing the query.
			log.Warn().Err(err).Str("query", pCtx.Query).Msg("classification failed, routing to simple path")
			decision = &RouteDecision{
				Class:     ClassSimple,
				Reasoning: "classifier unavailable; defaulted to single-shot retrieval",
				Fallback:  true,
			}
		} else if decision == nil || !decision.Class.Valid() {
			return StateError, NewClassificationError(NewInternalError("routing", "router returned an invalid decision", nil))
		}

		pCtx.Decision = decision
		if cache != nil && !decision.Fallback {
			cache.Set(ctx, key, decision)
		}
		if decision.Fallback {
			publish(ctx, bus, eventbus.EventRoutingFallback, decision, "StateRouting", nil)
		} else {
			publish(ctx, bus, eventbus.EventRoutingSuccess, decision, "StateRouting", nil)
		}
		return StateDispatch, nil
	}
}

// createDispatchTransition runs the selected execution path and records the
// resulting Answer on the process context.
func createDispatchTransition(dispatcher *Dispatcher) StateTransition {
	return func(ctx context.Context, bus eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		start := time.Now()
		answer, err := dispatcher.Dispatch(ctx, pCtx)
		if err != nil {
			if ctx.Err() != nil {
				return StateCancelled, ctx.Err()
			}
			return StateError, err
		}

		pCtx.Answer = answer
		pCtx.Complete()
		log.Debug().
			Str("class", string(pCtx.Decision.Class)).
			Dur("duration", time.Since(start)).
			Int64("retrieval_calls", pCtx.RetrievalCalls).
			Int64("tool_calls", pCtx.ToolCalls).
			Int64("synthesis_calls", pCtx.SynthesisCalls).
			Msg("query dispatched")
		return StateComplete, nil
	}
}

func publish(ctx context.Context, bus eventbus.EventBus, eventType eventbus.EventType, payload any, source string, metadata map[string]any) {
	if bus == nil {
		return
	}
	_ = bus.Publish(ctx, eventbus.NewEvent(eventType, payload, source, metadata))
}
