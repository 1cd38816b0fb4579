package app

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
)

// TestModeEnv set to "1" keeps binaries from dialing Postgres, Redis or the
// storefront.
const TestModeEnv = "CATALOGSYNC_TEST_MODE"

// ErrTestMode is returned by RequireLive while test mode is on.
var ErrTestMode = errors.New("app: test mode, backends disabled")

var (
	testMode     atomic.Bool
	testModeOnce sync.Once
)

// InTestMode reports whether test mode is on. The environment is read once;
// call RefreshTestMode after changing it.
func InTestMode() bool {
	testModeOnce.Do(RefreshTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads TestModeEnv.
func RefreshTestMode() {
	testMode.Store(os.Getenv(TestModeEnv) == "1")
}

// RequireLive fails with ErrTestMode when backends must not be dialed. Lazy
// entry points such as the catalogctl opener call it before connecting.
func RequireLive() error {
	if InTestMode() {
		return ErrTestMode
	}
	return nil
}
