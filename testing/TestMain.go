// Package testing puts test binaries that import it into test mode so
// commands skip runtime side effects such as binding ports or dialing
// PostgreSQL.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// Secret is a token secret long enough to satisfy configuration checks.
const Secret = "test-secret-test-secret-test-secret!"

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("AUTHZ_TEST_MODE", "1")
		if os.Getenv("TOKEN_SECRET") == "" {
			_ = os.Setenv("TOKEN_SECRET", Secret)
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain can be delegated to from a package's own TestMain.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
