package taxonomy

import "context"

type taxonomyKeyType struct{}

var taxonomyKey = taxonomyKeyType{}

func AddToContext(ctx context.Context, cache *Cache) context.Context {
	return context.WithValue(ctx, taxonomyKey, cache)
}

// FromContext returns the cache stored with AddToContext.
func FromContext(ctx context.Context) (*Cache, bool) {
	cache, ok := ctx.Value(taxonomyKey).(*Cache)
	return cache, ok && cache != nil
}
