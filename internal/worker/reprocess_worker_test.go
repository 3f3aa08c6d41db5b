package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lot-ledger/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProcessor struct {
	mu     sync.Mutex
	calls  int
	limits []int
	err    error
}

func (p *stubProcessor) ProcessPending(ctx context.Context, limit int) (*service.PendingReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.limits = append(p.limits, limit)
	return &service.PendingReport{
		Processed: 1,
		Failed:    []service.PendingFailure{{TradeID: 7, Error: "not enough shares"}},
	}, p.err
}

func (p *stubProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestReprocessWorkerSweepsUntilStopped(t *testing.T) {
	processor := &stubProcessor{}
	w := NewReprocessWorker(processor, zap.NewNop(), 10*time.Millisecond, 25)

	go w.Start()
	require.Eventually(t, func() bool { return processor.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	w.Stop()

	calls := processor.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, processor.callCount(), "no sweeps after Stop returns")
	assert.Equal(t, 25, processor.limits[0])
}

func TestReprocessWorkerKeepsRunningAfterFailure(t *testing.T) {
	processor := &stubProcessor{err: errors.New("database is locked")}
	w := NewReprocessWorker(processor, nil, 10*time.Millisecond, 0)

	go w.Start()
	require.Eventually(t, func() bool { return processor.callCount() >= 3 }, time.Second, 5*time.Millisecond)
	w.Stop()

	assert.Equal(t, 100, processor.limits[0], "default batch size")
}

func TestReprocessWorkerStopWithoutStart(t *testing.T) {
	w := NewReprocessWorker(&stubProcessor{}, nil, 0, 0)
	assert.Equal(t, 30*time.Second, w.interval)

	done := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without a running loop")
	}
}
