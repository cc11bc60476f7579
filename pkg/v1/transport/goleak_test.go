package transport

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutines leak across the package's tests. Writer
// pumps and Serve loops must all exit with their connections.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
