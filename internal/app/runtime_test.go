package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireLiveFollowsTestMode(t *testing.T) {
	t.Cleanup(RefreshTestMode)
	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())
	require.ErrorIs(t, RequireLive(), ErrTestMode)

	t.Setenv(TestModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
	assert.NoError(t, RequireLive())
}
