package store

import (
	"context"
	"fmt"

	tserrors "github.com/conneroisu/tagserve/internal/errors"
)

// Apply dispatches actions to s strictly in order. Each dispatch, including
// any effect it triggers, completes before the next one starts. The first
// failure stops the sequence and is returned as an action error carrying
// the index and type of the failed action; actions already applied are not
// rolled back. A panic in a reducer, effect or middleware counts as a
// failure of the action being dispatched.
func Apply(ctx context.Context, s Store, actions []Action) error {
	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			return tserrors.NewActionError(i, action.Type, err)
		}
		if err := dispatch(ctx, s, action); err != nil {
			return tserrors.NewActionError(i, action.Type, err)
		}
	}
	return nil
}

func dispatch(ctx context.Context, s Store, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Dispatch(ctx, action)
}
