package notevault

import (
	"context"

	"github.com/xraph/notevault/id"
)

type callerKey struct{}

// WithCaller returns a context carrying the account making the call.
func WithCaller(ctx context.Context, caller id.AccountID) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the account stored by WithCaller.
func CallerFrom(ctx context.Context) (id.AccountID, bool) {
	caller, ok := ctx.Value(callerKey{}).(id.AccountID)
	if !ok || caller.IsNil() {
		return id.Nil, false
	}
	return caller, true
}
