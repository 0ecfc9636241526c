package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "AUTHZ_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether commands should skip runtime side effects such
// as dialing PostgreSQL or binding the listen address. The AUTHZ_TEST_MODE
// variable is read on first use.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	RefreshTestMode()
	return *testMode.Load()
}

// RefreshTestMode re-reads AUTHZ_TEST_MODE after environment changes.
func RefreshTestMode() {
	enabled, err := strconv.ParseBool(os.Getenv(testModeEnv))
	enabled = err == nil && enabled
	testMode.Store(&enabled)
}
