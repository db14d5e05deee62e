package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow-ui/reflow/pkg/runloop"
)

func TestDisabledProviderIsInert(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	// No instruments were created; every hook must be a no-op.
	p.ObserveRun(context.Background(), runloop.StatusCompleted, 10*time.Millisecond, 3)
	p.ObserveRun(context.Background(), runloop.StatusFailed, time.Millisecond, 0)
	p.SessionOpened(context.Background())
	p.SessionClosed(context.Background())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "reflow", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
}

// Provider must satisfy the run loop's metrics seam.
var _ runloop.Metrics = (*Provider)(nil)
