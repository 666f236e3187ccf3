package openai

import (
	"context"
	"strings"
)

type requestKeyCtx struct{}

// WithRequestAPIKey attaches a caller-supplied provider key to ctx. It takes
// precedence over the key the client was built with.
func WithRequestAPIKey(ctx context.Context, key string) context.Context {
	key = strings.TrimSpace(key)
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, requestKeyCtx{}, key)
}

func RequestAPIKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(requestKeyCtx{}).(string)
	return key
}
