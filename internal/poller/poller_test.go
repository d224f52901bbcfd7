package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flowtabs/internal/model"
	"flowtabs/internal/osapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu        sync.Mutex
	windows   []model.Window
	listErr   error
	active    model.ID
	activeErr error

	inFlight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (f *fakeSource) ListWindows(ctx context.Context) ([]model.Window, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.windows, f.listErr
}

func (f *fakeSource) ActiveWindow(context.Context) (model.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.activeErr
}

func TestPoll_FailedStepDoesNotSkipTheOther(t *testing.T) {
	src := &fakeSource{listErr: errors.New("powershell exited 1"), active: "7"}
	res := New(src, time.Second, nil).Poll(context.Background())
	assert.False(t, res.OK())
	assert.Equal(t, model.ID("7"), res.Active)

	src = &fakeSource{windows: []model.Window{{ID: "1"}}, activeErr: errors.New("no focus")}
	res = New(src, time.Second, nil).Poll(context.Background())
	assert.True(t, res.OK())
	assert.Len(t, res.Windows, 1)
	assert.Error(t, res.ActiveErr)
}

func TestRun_DeliversUntilCancelledWithoutOverlap(t *testing.T) {
	src := &fakeSource{windows: []model.Window{{ID: "1", Title: "a"}}, active: "1", delay: 15 * time.Millisecond}
	p := New(src, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var got atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, func(r Result) {
			if got.Add(1) >= 4 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.GreaterOrEqual(t, got.Load(), int32(4))
	assert.False(t, src.overlap.Load(), "poll cycles overlapped")
}

func TestRun_KeepsPollingAfterErrors(t *testing.T) {
	src := &fakeSource{listErr: osapi.ErrUnsupported, activeErr: osapi.ErrUnsupported}
	p := New(src, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var n atomic.Int32
	err := p.Run(ctx, func(r Result) {
		assert.False(t, r.OK())
		if n.Add(1) == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), n.Load())
}
