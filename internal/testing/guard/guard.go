// Package guard switches the process into test mode when imported for side
// effects, so binaries under test skip connecting to Postgres and Redis.
package guard

import "os"

// Env is the variable read by app.InTestMode.
const Env = "PROCURE_TEST_MODE"

func init() {
	if os.Getenv(Env) == "" {
		_ = os.Setenv(Env, "1")
	}
}
