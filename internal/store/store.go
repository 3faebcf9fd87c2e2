// Package store provides the state container each render request builds
// its page state in, and the sequencer that applies a request's actions.
//
// A Store holds one State value and replaces it by running a Reducer for
// every dispatched Action. Enhancers wrap store creation and middleware
// wraps dispatch, so side effects (logging, effects that fetch data and
// dispatch follow-up actions) compose around the reducer. Dispatch blocks
// until the action and every effect it triggered have committed.
//
// Stores are cheap and never shared: the render pipeline creates a fresh
// one per request and discards it with the response.
package store

import (
	"context"
	"sync"
)

// ActionInit is dispatched once when a store is created so the reducer can
// return its initial state.
const ActionInit = "@@tagserve/INIT"

// State is the container's value. It must be JSON-serializable because the
// final snapshot is embedded into the page for client bootstrap.
type State = interface{}

// Action is a plain, serializable request to change state.
type Action struct {
	Type    string                 `json:"type" yaml:"type" mapstructure:"type"`
	Payload map[string]interface{} `json:"payload,omitempty" yaml:"payload,omitempty" mapstructure:"payload"`
}

// Reducer returns the state that results from applying action to state.
// It must not modify state in place.
type Reducer func(state State, action Action) (State, error)

// DispatchFunc applies an action.
type DispatchFunc func(ctx context.Context, action Action) error

// Store is a state container.
type Store interface {
	Dispatch(ctx context.Context, action Action) error
	GetState() State
}

// Creator builds a store from a reducer.
type Creator func(reducer Reducer) (Store, error)

// Enhancer wraps store creation.
type Enhancer func(next Creator) Creator

// New creates a store for reducer, optionally wrapped by enhancer.
func New(reducer Reducer, enhancer Enhancer) (Store, error) {
	create := Creator(newBase)
	if enhancer != nil {
		create = enhancer(create)
	}
	return create(reducer)
}

type baseStore struct {
	reducer Reducer
	state   State
	mu      sync.Mutex
}

func newBase(reducer Reducer) (Store, error) {
	s := &baseStore{reducer: reducer}
	if reducer == nil {
		return s, nil
	}
	state, err := reducer(nil, Action{Type: ActionInit})
	if err != nil {
		return nil, err
	}
	s.state = state
	return s, nil
}

// Dispatch runs the reducer. A reducer error leaves state unchanged.
func (s *baseStore) Dispatch(ctx context.Context, action Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reducer == nil {
		return nil
	}
	next, err := s.reducer(s.state, action)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *baseStore) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Compose chains enhancers so the first one is the outermost wrapper.
func Compose(enhancers ...Enhancer) Enhancer {
	return func(next Creator) Creator {
		for i := len(enhancers) - 1; i >= 0; i-- {
			if enhancers[i] != nil {
				next = enhancers[i](next)
			}
		}
		return next
	}
}
