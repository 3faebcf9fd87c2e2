package store

import (
	"context"
	"fmt"
	"time"

	"github.com/conneroisu/tagserve/internal/logging"
)

// API is what middleware sees of the store.
type API struct {
	// Dispatch runs an action through the whole middleware chain.
	Dispatch DispatchFunc
	GetState func() State
}

// Middleware wraps dispatch.
type Middleware func(api API) func(next DispatchFunc) DispatchFunc

// ApplyMiddleware returns an enhancer running actions through mws, the first
// middleware being the outermost.
func ApplyMiddleware(mws ...Middleware) Enhancer {
	return func(next Creator) Creator {
		return func(reducer Reducer) (Store, error) {
			inner, err := next(reducer)
			if err != nil {
				return nil, err
			}

			s := &middlewareStore{Store: inner}
			api := API{
				Dispatch: func(ctx context.Context, a Action) error { return s.dispatch(ctx, a) },
				GetState: inner.GetState,
			}

			dispatch := DispatchFunc(inner.Dispatch)
			for i := len(mws) - 1; i >= 0; i-- {
				dispatch = mws[i](api)(dispatch)
			}
			s.dispatch = dispatch
			return s, nil
		}
	}
}

type middlewareStore struct {
	Store
	dispatch DispatchFunc
}

func (s *middlewareStore) Dispatch(ctx context.Context, action Action) error {
	return s.dispatch(ctx, action)
}

// Logging logs every dispatched action and its duration.
func Logging(logger logging.Logger) Middleware {
	logger = logger.WithComponent("store")
	return func(api API) func(next DispatchFunc) DispatchFunc {
		return func(next DispatchFunc) DispatchFunc {
			return func(ctx context.Context, action Action) error {
				start := time.Now()
				err := next(ctx, action)
				if err != nil {
					logger.Warn(ctx, err, "Action failed", "action", action.Type,
						"duration_ms", time.Since(start).Milliseconds())
					return err
				}
				logger.Debug(ctx, "Action applied", "action", action.Type,
					"duration_ms", time.Since(start).Milliseconds())
				return nil
			}
		}
	}
}

// Effect runs after the reducer has applied an action of its type. It may
// block on I/O and dispatch follow-up actions through api.
type Effect func(ctx context.Context, action Action, api API) error

// Effects runs the effect registered for each action type. Dispatch returns
// once the effect, and anything it dispatched, has finished.
func Effects(effects map[string]Effect) Middleware {
	return func(api API) func(next DispatchFunc) DispatchFunc {
		return func(next DispatchFunc) DispatchFunc {
			return func(ctx context.Context, action Action) error {
				if err := next(ctx, action); err != nil {
					return err
				}
				effect, ok := effects[action.Type]
				if !ok {
					return nil
				}
				if err := effect(ctx, action, api); err != nil {
					return fmt.Errorf("effect for %s: %w", action.Type, err)
				}
				return nil
			}
		}
	}
}
