package miner

import (
	"testing"

	"github.com/opensyria/cryptonight-miner/common/memory"
)

func TestSelfTest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full kernel self-test in short mode")
	}

	if !SelfTest(memory.AlwaysSlow, nil) {
		t.Fatal("Kernel self-test failed")
	}
}
