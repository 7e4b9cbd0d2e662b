package miner

import (
	"math"
	"testing"
	"time"
)

func TestHashrateNoSamples(t *testing.T) {
	tel := newTelemetry(2)

	if hr := tel.hashrateAt(0, time.Second, 1000); !math.IsNaN(hr) {
		t.Errorf("Expected NaN with no samples, got %f", hr)
	}
}

func TestHashrateSingleSample(t *testing.T) {
	tel := newTelemetry(1)
	tel.push(0, 16, 1000)

	if hr := tel.hashrateAt(0, time.Second, 1100); !math.IsNaN(hr) {
		t.Errorf("Expected NaN with one sample, got %f", hr)
	}
}

func TestHashrateWindow(t *testing.T) {
	tel := newTelemetry(1)
	tel.push(0, 0, 1000)
	tel.push(0, 16, 2000)
	tel.push(0, 32, 3000)
	tel.push(0, 48, 4000)

	// Window of 1.5s at t=4000: the sample at t=2000 closes the window,
	// so the rate spans [2000, 4000].
	hr := tel.hashrateAt(0, 1500*time.Millisecond, 4000)
	if math.IsNaN(hr) {
		t.Fatal("Expected a finite hashrate")
	}
	if hr != 16 {
		t.Errorf("Expected 16 H/s, got %f", hr)
	}
}

func TestHashrateWindowNotCovered(t *testing.T) {
	tel := newTelemetry(1)
	tel.push(0, 0, 1000)
	tel.push(0, 16, 2000)

	// All samples are inside the window: the ring does not span it yet.
	if hr := tel.hashrateAt(0, 10*time.Second, 2500); !math.IsNaN(hr) {
		t.Errorf("Expected NaN for uncovered window, got %f", hr)
	}
}

func TestHashrateEqualStamps(t *testing.T) {
	tel := newTelemetry(1)
	tel.push(0, 0, 1000)
	tel.push(0, 5, 2000)

	// Every sample is older than the window, so latest == earliest.
	if hr := tel.hashrateAt(0, time.Second, 3500); !math.IsNaN(hr) {
		t.Errorf("Expected NaN when latest == earliest, got %f", hr)
	}
}

func TestHashrateRingWrap(t *testing.T) {
	tel := newTelemetry(1)

	// Overfill the ring; old samples must be overwritten, not corrupt
	// the walk.
	for i := 0; i < ringSize+16; i++ {
		tel.push(0, uint64(i*16), int64(1000+i*100))
	}

	now := int64(1000 + (ringSize+15)*100)
	hr := tel.hashrateAt(0, time.Second, now)
	if math.IsNaN(hr) {
		t.Fatal("Expected a finite hashrate after wrap")
	}
	// 16 hashes per 100ms sample.
	if hr != 160 {
		t.Errorf("Expected 160 H/s, got %f", hr)
	}
}

func TestHashratePerThreadIsolation(t *testing.T) {
	tel := newTelemetry(2)
	tel.push(0, 0, 1000)
	tel.push(0, 100, 2000)
	tel.push(0, 200, 3000)

	if hr := tel.hashrateAt(1, time.Second, 3000); !math.IsNaN(hr) {
		t.Errorf("Thread 1 has no samples, expected NaN, got %f", hr)
	}
}
