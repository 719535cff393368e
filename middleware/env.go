package middleware

import (
	"context"

	"github.com/xraph/runqueue/batch"
	"github.com/xraph/runqueue/keys"
)

type envKey struct{}

// Env returns middleware that stores the item's tenant identity in the
// context, so processors can build concurrency scopes without the meta.
func Env() Middleware {
	return func(ctx context.Context, item *batch.DequeuedItem, next Handler) error {
		if item.Meta != nil {
			ctx = WithEnv(ctx, item.Meta.Env())
		}
		return next(ctx)
	}
}

// WithEnv returns a copy of ctx carrying env.
func WithEnv(ctx context.Context, env keys.Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// EnvFromContext returns the environment stored by Env.
func EnvFromContext(ctx context.Context) (keys.Env, bool) {
	env, ok := ctx.Value(envKey{}).(keys.Env)
	return env, ok
}
