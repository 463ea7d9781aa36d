package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-setting-api/internal/workflow/port"
)

func TestForRouteReusesClients(t *testing.T) {
	f := NewEinoFactory()
	route := port.ModelRoute{
		Kind:      port.RouteKindPrivate,
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		BaseURL:   "http://127.0.0.1:1/v1",
		APIKey:    "sk-user-1",
		MaxTokens: 2048,
		Timeout:   time.Minute,
	}

	a, err := f.ForRoute(context.Background(), route)
	require.NoError(t, err)
	b, err := f.ForRoute(context.Background(), route)
	require.NoError(t, err)
	assert.Same(t, a, b)

	other := route
	other.APIKey = "sk-user-2"
	c, err := f.ForRoute(context.Background(), other)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, f.Len())
}

func TestForRouteRequiresModel(t *testing.T) {
	_, err := NewEinoFactory().ForRoute(context.Background(), port.ModelRoute{ConfigID: "cfg-1"})
	assert.Error(t, err)
}

func TestCacheKeyHidesAPIKey(t *testing.T) {
	key := cacheKey(port.ModelRoute{Provider: "openai", Model: "m", APIKey: "sk-secret-value"})
	assert.NotContains(t, key, "sk-secret-value")
	assert.NotEqual(t, key, cacheKey(port.ModelRoute{Provider: "openai", Model: "m", APIKey: "sk-other"}))
}
