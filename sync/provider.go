package sync

import (
	"context"
	"io"
)

// Provider is the remote tree the mirror is built from.
//
// ListChildren must drain any pagination before returning; an empty id
// lists the provider's top-level root. GetContentHash returns ok=false when
// the remote item carries no hash yet. Errors wrap ErrUnauthorized,
// ErrNotFound or ErrTransient where the cause is known.
type Provider interface {
	ListChildren(ctx context.Context, id string) ([]Node, error)
	GetContentHash(ctx context.Context, id string) (hash string, ok bool, err error)
	GetContent(ctx context.Context, id string) (io.ReadCloser, error)
}

type freshHashKey struct{}

// WithFreshHash marks ctx so that GetContentHash bypasses any hash a
// provider cached from listings or earlier lookups.
func WithFreshHash(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshHashKey{}, true)
}

// FreshHashRequested reports whether ctx was marked by WithFreshHash.
func FreshHashRequested(ctx context.Context) bool {
	fresh, _ := ctx.Value(freshHashKey{}).(bool)
	return fresh
}
