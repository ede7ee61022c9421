// Package guard is blank-imported by cmd tests so calling main() stays
// offline. An explicit TRADELEDGER_TEST_MODE from the shell wins.
package guard

import (
	"os"

	"github.com/tradeledger/tradeledger/internal/app"
)

func init() {
	if _, set := os.LookupEnv(app.TestModeEnv); !set {
		_ = os.Setenv(app.TestModeEnv, "true")
	}
}
