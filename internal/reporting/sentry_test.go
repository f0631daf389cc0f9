package reporting

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		error string
		want  string
	}{
		{
			name:  "connection reset by peer",
			error: `failed to send request: Get "https://api.example.com/api/platforms": read tcp [dead:beef:feb1:d745::c001]:64079->[dead:beef::6811:112a]:443: read: connection reset by peer`,
			want:  `failed to send request: Get "https://api.example.com/api/platforms": read tcp <host>-><host>: read: connection reset by peer`,
		},
		{
			name:  "numeric id at end of path",
			error: `failed to send request: Get "https://api.example.com/api/jobs/1234": context deadline exceeded`,
			want:  `failed to send request: Get "https://api.example.com/api/jobs/<id>": context deadline exceeded`,
		},
		{
			name:  "numeric id inside path",
			error: `unexpected status 500 from /api/profiles/42/projects`,
			want:  `unexpected status 500 from /api/profiles/<id>/projects`,
		},
		{
			name:  "numeric id before query",
			error: `unexpected status 502 from /api/courses/7?include=modules`,
			want:  `unexpected status 502 from /api/courses/<id>?include=modules`,
		},
		{
			name:  "uuid",
			error: `unexpected status 404 from /api/profiles/deadbeef-8315-465d-9d44-cfc238c64f71`,
			want:  `unexpected status 404 from /api/profiles/<uuid>`,
		},
		{
			name:  "no match on mixed segments",
			error: `unexpected status 500 from /api/v2/skills`,
			want:  `unexpected status 500 from /api/v2/skills`,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, c.want, sanitizeError(c.error))
		})
	}

	t.Run("misc ipv6", func(t *testing.T) {
		t.Parallel()

		for _, ip := range []string{`1:2:3:4:5:6:7:8`, `1::`, `1::8`, `::8`, `::`} {
			t.Run(ip, func(t *testing.T) {
				t.Parallel()

				require.Equal(t, "<host>", sanitizeError(fmt.Sprintf("[%s]:1234", ip)))
			})
		}
	})
}

func TestReportWithoutHub(t *testing.T) {
	t.Parallel()

	// Must not panic when sentry is not set up
	Report(context.Background(), errors.New("failed to fetch taxonomy"), map[string]string{"key": "taxonomy"})
	Report(context.Background(), nil)
}

func TestMetaFromContext(t *testing.T) {
	t.Parallel()

	ctx := AddTagsToContext(t.Context(), map[string]string{"key": "/api/jobs"})
	ctx = AddExtrasToContext(ctx, map[string]string{"attempt": "2"})
	child := AddTagsToContext(ctx, map[string]string{"key": "/api/skills"})
	child = SetUserIDInContext(child, "user-1")

	meta := MetaFromContext(ctx)
	require.Equal(t, map[string]string{"key": "/api/jobs"}, meta.tags)
	require.Equal(t, map[string]string{"attempt": "2"}, meta.extras)
	require.Equal(t, "", meta.userID)

	childMeta := MetaFromContext(child)
	require.Equal(t, map[string]string{"key": "/api/skills"}, childMeta.tags)
	require.Equal(t, "user-1", childMeta.userID)
}
