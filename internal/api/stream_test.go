package api

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamGateCloseIsIdempotent(t *testing.T) {
	var gate = newStreamGate()

	gate.close()
	assert.NotPanics(t, gate.close)

	select {
	case <-gate.done:
	default:
		t.Fatal("gate not closed")
	}
}

func TestStreamGateConcurrentClose(t *testing.T) {
	var gate = newStreamGate()

	// Overflow in the subscriber and a reader disconnect can race the
	// shutdown signal; neither closer may panic.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotPanics(t, gate.close)
		}()
	}
	wg.Wait()

	select {
	case <-gate.done:
	default:
		t.Fatal("gate not closed")
	}
}
