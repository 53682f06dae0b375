package reqcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCorrelationIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateCorrelationID()
		require.Len(t, id, 32)
		require.False(t, seen[id], "duplicate correlation id %s", id)
		seen[id] = true
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc123")
	assert.Equal(t, "abc123", GetCorrelationID(ctx))
}

func TestGetCorrelationIDEmptyWhenAbsent(t *testing.T) {
	assert.Empty(t, GetCorrelationID(context.Background()))
	assert.Empty(t, GetCorrelationID(context.TODO()))
}

func TestRequestSourceRoundTrip(t *testing.T) {
	for _, source := range []RequestSource{SourceMCP, SourceInternal} {
		ctx := WithRequestSource(context.Background(), source)
		assert.Equal(t, source, GetRequestSource(ctx))
	}
}

func TestGetRequestSourceUnknownWhenAbsent(t *testing.T) {
	assert.Equal(t, SourceUnknown, GetRequestSource(context.Background()))
	assert.Equal(t, SourceUnknown, GetRequestSource(context.TODO()))
}

func TestPrincipalIDRoundTrip(t *testing.T) {
	ctx := WithPrincipalID(context.Background(), "key-42")
	assert.Equal(t, "key-42", GetPrincipalID(ctx))
}

func TestGetPrincipalIDEmptyWhenAbsent(t *testing.T) {
	assert.Empty(t, GetPrincipalID(context.Background()))
	assert.Empty(t, GetPrincipalID(context.TODO()))
}

func TestWithMetadataSetsBoth(t *testing.T) {
	ctx := WithMetadata(context.Background(), SourceMCP)
	assert.Len(t, GetCorrelationID(ctx), 32)
	assert.Equal(t, SourceMCP, GetRequestSource(ctx))
}

func TestPrincipalIDAndCorrelationIDCoexist(t *testing.T) {
	ctx := WithMetadata(context.Background(), SourceMCP)
	ctx = WithPrincipalID(ctx, "key-7")

	assert.NotEmpty(t, GetCorrelationID(ctx))
	assert.Equal(t, "key-7", GetPrincipalID(ctx))
	assert.Equal(t, SourceMCP, GetRequestSource(ctx))
}
