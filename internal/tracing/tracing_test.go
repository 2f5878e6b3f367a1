package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init("checkout-api", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitWithEndpoint(t *testing.T) {
	shutdown, err := Init("checkout-api", "http://127.0.0.1:1/api/traces")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
