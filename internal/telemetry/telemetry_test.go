package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/telemetry"
)

func TestSetupStdoutProvidersShutDownCleanly(t *testing.T) {
	ctx := context.Background()
	providers, err := telemetry.Setup(ctx, "bamboo-node-test", "")
	require.NoError(t, err)
	require.NotNil(t, providers.Meter)
	require.NotNil(t, providers.Tracer)

	_, span := providers.Tracer.Start(ctx, "test-span")
	span.End()

	require.NoError(t, providers.Shutdown(ctx))
}
