package reporting

import (
	"context"
	"maps"
)

type reportingMetaContextKey struct{}

type ReportingMeta struct {
	tags   map[string]string
	extras map[string]string
	userID string
}

func MetaFromContext(ctx context.Context) ReportingMeta {
	meta, ok := ctx.Value(reportingMetaContextKey{}).(ReportingMeta)
	if !ok {
		return ReportingMeta{
			tags:   make(map[string]string),
			extras: make(map[string]string),
			userID: "",
		}
	}
	return ReportingMeta{
		tags:   maps.Clone(meta.tags),
		extras: maps.Clone(meta.extras),
		userID: meta.userID,
	}
}

func addMetaToContext(ctx context.Context, meta ReportingMeta) context.Context {
	return context.WithValue(ctx, reportingMetaContextKey{}, meta)
}

func AddExtrasToContext(ctx context.Context, extras map[string]string) context.Context {
	meta := MetaFromContext(ctx)
	maps.Copy(meta.extras, extras)
	return addMetaToContext(ctx, meta)
}

func AddTagsToContext(ctx context.Context, tags map[string]string) context.Context {
	meta := MetaFromContext(ctx)
	maps.Copy(meta.tags, tags)
	return addMetaToContext(ctx, meta)
}

// SetUserIDInContext attaches the signed-in marketplace user to reported errors.
func SetUserIDInContext(ctx context.Context, userID string) context.Context {
	meta := MetaFromContext(ctx)
	meta.userID = userID
	return addMetaToContext(ctx, meta)
}
