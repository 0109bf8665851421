package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/questline/messagehub/pkg/config"
	"github.com/questline/messagehub/pkg/health"
	"github.com/questline/messagehub/pkg/logger"
)

func newTestEngine() *Engine {
	return NewEngine(config.New(), logger.New("engine-test", "test"))
}

func TestStopIsConcurrencySafe(t *testing.T) {
	e := newTestEngine()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Stop()
		}()
	}
	wg.Wait()

	assert.False(t, e.state.isRunning)
}

func TestCheckHealthNotConnected(t *testing.T) {
	e := newTestEngine()

	status := e.CheckHealth(context.Background())
	assert.Equal(t, health.StatusUnhealthy, status)
}
