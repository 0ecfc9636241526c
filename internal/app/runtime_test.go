package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTestModeFollowsEnvironment(t *testing.T) {
	t.Cleanup(RefreshTestMode)

	for value, want := range map[string]bool{"1": true, "true": true, "0": false, "": false, "maybe": false} {
		t.Setenv(testModeEnv, value)
		RefreshTestMode()
		assert.Equal(t, want, InTestMode(), value)
	}
}
