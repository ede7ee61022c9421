package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv makes cmd/tradeledger and cmd/worker return from main before
// touching Postgres or Redis. Any value strconv.ParseBool accepts as true
// enables it.
const TestModeEnv = "TRADELEDGER_TEST_MODE"

var testMode atomic.Pointer[bool]

func readTestMode() *bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	on = err == nil && on
	return &on
}

// InTestMode reports whether the binaries run under go test.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	testMode.CompareAndSwap(nil, readTestMode())
	return *testMode.Load()
}

// RefreshTestMode re-reads TestModeEnv.
func RefreshTestMode() {
	testMode.Store(readTestMode())
}
