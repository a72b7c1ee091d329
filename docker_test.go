package hivemq_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemq/hivemq-testcontainer"
	"github.com/hivemq/hivemq-testcontainer/extension"
	"github.com/hivemq/hivemq-testcontainer/wait"
)

func TestCommunityEditionBroker(t *testing.T) {
	t.Parallel()
	if os.Getenv("HIVEMQ_TC_DOCKER") == "" {
		t.Skip("set HIVEMQ_TC_DOCKER=1 to run tests against a Docker daemon")
	}

	c, err := hivemq.New(
		hivemq.WithStartupTimeout(3*time.Minute),
		hivemq.WithLogLevel("DEBUG"),
		hivemq.WithSilent(true),
		hivemq.WithWaitStrategy(wait.ForMQTT()),
		hivemq.WithWaitStrategy(wait.ForLog(hivemq.StartedPattern)),
	)
	require.NoError(t, err)
	ctx := t.Context()
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() {
		assert.NoError(t, c.Stop(context.WithoutCancel(ctx)))
	})

	port, err := c.MQTTPort()
	require.NoError(t, err)
	require.NoError(t, wait.ForMQTT().WithInitialWait(0).WithTimeout(10*time.Second).
		Wait(ctx, wait.StaticTarget{Address: c.Host(), Port: port}))

	ok, err := c.DisableExtension(ctx, extension.Extension{
		ID:      "not-installed",
		Name:    "Not Installed",
		Version: "1.0.0",
	}, 2*time.Second)
	var cmdErr *hivemq.CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.False(t, ok)
	require.Equal(t, 0, c.Expectations().Len())
}
