package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiscript/pkg/types"
)

type executeFunc func(ctx context.Context, member *types.QueueMember) (*types.Book, error)

func (f executeFunc) Execute(ctx context.Context, member *types.QueueMember) (*types.Book, error) {
	return f(ctx, member)
}

type recordingNotifier struct {
	outcomes chan Outcome
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{outcomes: make(chan Outcome, 32)}
}

func (n *recordingNotifier) JobSettled(outcome Outcome) {
	n.outcomes <- outcome
}

func (n *recordingNotifier) next(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-n.outcomes:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job outcome")
		return Outcome{}
	}
}

func succeed(ctx context.Context, member *types.QueueMember) (*types.Book, error) {
	return &types.Book{OwnerID: member.UserID, Title: member.Payload.Title}, nil
}

func newTestDispatcher(t *testing.T, exec Executor, cfg Config) (*Dispatcher, *recordingNotifier) {
	t.Helper()
	if cfg.IdleInterval == 0 {
		cfg.IdleInterval = 20 * time.Millisecond
	}
	d, err := New(exec, cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	n := newRecordingNotifier()
	d.SetNotifier(n)
	t.Cleanup(func() {
		if d.IsRunning() {
			_ = d.Stop()
		}
	})
	return d, n
}

func member(userID string) *types.QueueMember {
	return &types.QueueMember{
		UserID:  userID,
		Payload: types.BookRequest{Title: "book of " + userID},
	}
}

func TestNew_RequiresExecutor(t *testing.T) {
	_, err := New(nil, Config{}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNilExecutor)
}

func TestDispatcher_JoinAssignsPositions(t *testing.T) {
	d, _ := newTestDispatcher(t, executeFunc(succeed), Config{})

	for i, user := range []string{"a", "b", "c"} {
		res, err := d.Join(types.QueueShared, member(user))
		require.NoError(t, err)
		assert.Equal(t, types.StatusQueued, res.Status)
		assert.Equal(t, i+1, res.Position)
		assert.Equal(t, i+1, res.Size)
	}

	assert.Equal(t, 1, d.Position(types.QueueShared, "a"))
	assert.Equal(t, 3, d.Position(types.QueueShared, "c"))
	assert.Equal(t, types.PositionNotQueued, d.Position(types.QueueShared, "z"))
	assert.Equal(t, types.PositionNotQueued, d.Position(types.QueuePriority, "a"))

	members := d.Members(types.QueueShared)
	require.Len(t, members, 3)
	assert.NotEmpty(t, members[0].InstanceID)
	assert.False(t, members[0].EnqueuedAt.IsZero())
}

func TestDispatcher_JoinRejectsDuplicateUser(t *testing.T) {
	d, _ := newTestDispatcher(t, executeFunc(succeed), Config{})

	_, err := d.Join(types.QueueShared, member("a"))
	require.NoError(t, err)
	_, err = d.Join(types.QueueShared, member("b"))
	require.NoError(t, err)

	res, err := d.Join(types.QueueShared, member("a"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusAlreadyInQueue, res.Status)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, 2, res.Size)
	assert.Equal(t, 2, d.Size(types.QueueShared))

	// Uniqueness is per queue.
	res, err = d.Join(types.QueuePriority, member("a"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, res.Status)
}

func TestDispatcher_JoinValidation(t *testing.T) {
	d, _ := newTestDispatcher(t, executeFunc(succeed), Config{})

	_, err := d.Join("vip", member("a"))
	assert.ErrorIs(t, err, types.ErrInvalidQueueClass)

	_, err = d.Join(types.QueueShared, nil)
	assert.ErrorIs(t, err, ErrNilMember)

	_, err = d.Join(types.QueueShared, member(""))
	assert.ErrorIs(t, err, types.ErrInvalidUserID)
}

func TestDispatcher_LeaveIsIdempotent(t *testing.T) {
	d, _ := newTestDispatcher(t, executeFunc(succeed), Config{})

	_, _ = d.Join(types.QueueShared, member("a"))
	_, _ = d.Join(types.QueueShared, member("b"))
	_, _ = d.Join(types.QueueShared, member("c"))

	removed, size := d.Leave(types.QueueShared, "b")
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, size)
	assert.Equal(t, 2, d.Position(types.QueueShared, "c"))

	removed, size = d.Leave(types.QueueShared, "b")
	assert.Equal(t, 0, removed)
	assert.Equal(t, 2, size)

	removed, size = d.Leave(types.QueuePriority, "a")
	assert.Equal(t, 0, removed)
	assert.Equal(t, 0, size)

	removed, _ = d.Leave("vip", "a")
	assert.Equal(t, 0, removed)
}

func TestDispatcher_ProcessesInFIFOOrder(t *testing.T) {
	d, n := newTestDispatcher(t, executeFunc(succeed), Config{})

	users := []string{"a", "b", "c", "d"}
	for _, user := range users {
		_, err := d.Join(types.QueueShared, member(user))
		require.NoError(t, err)
	}

	require.NoError(t, d.Start(context.Background()))

	for i, user := range users {
		o := n.next(t)
		assert.Equal(t, user, o.Member.UserID)
		assert.Equal(t, types.QueueShared, o.Class)
		assert.NoError(t, o.Err)
		require.NotNil(t, o.Book)
		assert.Equal(t, "book of "+user, o.Book.Title)
		assert.Equal(t, len(users)-i-1, o.Size)
	}
	assert.Equal(t, 0, d.Size(types.QueueShared))
}

func TestDispatcher_PriorityPrecedesShared(t *testing.T) {
	d, n := newTestDispatcher(t, executeFunc(succeed), Config{})

	_, _ = d.Join(types.QueueShared, member("s1"))
	_, _ = d.Join(types.QueueShared, member("s2"))
	_, _ = d.Join(types.QueuePriority, member("p1"))
	_, _ = d.Join(types.QueuePriority, member("p2"))

	require.NoError(t, d.Start(context.Background()))

	var order []string
	for i := 0; i < 4; i++ {
		order = append(order, n.next(t).Member.UserID)
	}
	assert.Equal(t, []string{"p1", "p2", "s1", "s2"}, order)
}

func TestDispatcher_PriorityJoinedDuringSharedJob(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 8)

	exec := executeFunc(func(ctx context.Context, m *types.QueueMember) (*types.Book, error) {
		started <- m.UserID
		if m.UserID == "s1" {
			<-release
		}
		return &types.Book{}, nil
	})
	d, n := newTestDispatcher(t, exec, Config{})

	_, _ = d.Join(types.QueueShared, member("s1"))
	_, _ = d.Join(types.QueueShared, member("s2"))
	require.NoError(t, d.Start(context.Background()))

	assert.Equal(t, "s1", <-started)

	// No mid-job preemption: s1 finishes, then p1 overtakes s2.
	_, _ = d.Join(types.QueuePriority, member("p1"))
	close(release)

	assert.Equal(t, "s1", n.next(t).Member.UserID)
	assert.Equal(t, "p1", n.next(t).Member.UserID)
	assert.Equal(t, "s2", n.next(t).Member.UserID)
}

func TestDispatcher_SingleFlight(t *testing.T) {
	var active, peak int32

	exec := executeFunc(func(ctx context.Context, m *types.QueueMember) (*types.Book, error) {
		current := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if current <= old || atomic.CompareAndSwapInt32(&peak, old, current) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return &types.Book{}, nil
	})
	d, n := newTestDispatcher(t, exec, Config{})
	require.NoError(t, d.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			class := types.QueueShared
			if i%2 == 0 {
				class = types.QueuePriority
			}
			_, err := d.Join(class, member(fmt.Sprintf("user-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		n.next(t)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestDispatcher_MemberVisibleWhileProcessing(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	exec := executeFunc(func(ctx context.Context, m *types.QueueMember) (*types.Book, error) {
		close(started)
		<-release
		return &types.Book{}, nil
	})
	d, n := newTestDispatcher(t, exec, Config{})

	_, _ = d.Join(types.QueueShared, member("a"))
	_, _ = d.Join(types.QueueShared, member("b"))
	require.NoError(t, d.Start(context.Background()))
	<-started

	assert.Equal(t, 1, d.Position(types.QueueShared, "a"))
	assert.Equal(t, 2, d.Position(types.QueueShared, "b"))
	inFlight, ok := d.InFlight()
	require.True(t, ok)
	assert.Equal(t, "a", inFlight.UserID)

	// Leaving cannot drop the member being processed.
	removed, size := d.Leave(types.QueueShared, "a")
	assert.Equal(t, 0, removed)
	assert.Equal(t, 2, size)

	// A waiting member behind it can still leave.
	removed, size = d.Leave(types.QueueShared, "b")
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, size)

	close(release)
	o := n.next(t)
	assert.Equal(t, "a", o.Member.UserID)
	assert.Equal(t, 0, o.Size)

	_, ok = d.InFlight()
	assert.False(t, ok)
}

func TestDispatcher_FailuresDoNotStopTheLoop(t *testing.T) {
	errBoom := errors.New("generator down")

	exec := executeFunc(func(ctx context.Context, m *types.QueueMember) (*types.Book, error) {
		switch m.UserID {
		case "err":
			return nil, errBoom
		case "panic":
			panic("bad payload")
		}
		return &types.Book{}, nil
	})
	d, n := newTestDispatcher(t, exec, Config{})

	_, _ = d.Join(types.QueueShared, member("err"))
	_, _ = d.Join(types.QueueShared, member("panic"))
	_, _ = d.Join(types.QueueShared, member("ok"))
	require.NoError(t, d.Start(context.Background()))

	o := n.next(t)
	assert.Equal(t, "err", o.Member.UserID)
	assert.ErrorIs(t, o.Err, errBoom)

	o = n.next(t)
	assert.Equal(t, "panic", o.Member.UserID)
	assert.ErrorIs(t, o.Err, ErrExecutorPanic)

	o = n.next(t)
	assert.Equal(t, "ok", o.Member.UserID)
	assert.NoError(t, o.Err)

	assert.Equal(t, 0, d.Size(types.QueueShared), "failed members are dequeued, not retried")
}

func TestDispatcher_JobTimeout(t *testing.T) {
	exec := executeFunc(func(ctx context.Context, m *types.QueueMember) (*types.Book, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d, n := newTestDispatcher(t, exec, Config{JobTimeout: 20 * time.Millisecond})

	_, _ = d.Join(types.QueuePriority, member("slow"))
	require.NoError(t, d.Start(context.Background()))

	o := n.next(t)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)
	assert.Equal(t, 0, d.Size(types.QueuePriority))
}

func TestDispatcher_WakesOnJoin(t *testing.T) {
	d, n := newTestDispatcher(t, executeFunc(succeed), Config{IdleInterval: time.Hour})
	require.NoError(t, d.Start(context.Background()))

	// Let the loop reach its idle wait before joining.
	time.Sleep(20 * time.Millisecond)
	_, err := d.Join(types.QueueShared, member("late"))
	require.NoError(t, err)

	assert.Equal(t, "late", n.next(t).Member.UserID)
}

func TestDispatcher_StartStop(t *testing.T) {
	d, _ := newTestDispatcher(t, executeFunc(succeed), Config{})

	assert.ErrorIs(t, d.Stop(), ErrDispatcherNotRunning)

	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.IsRunning())
	assert.ErrorIs(t, d.Start(context.Background()), ErrDispatcherAlreadyRunning)

	require.NoError(t, d.Stop())
	assert.False(t, d.IsRunning())

	// Restartable after a stop.
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop())
}

func TestDispatcher_NotifierPanicIsContained(t *testing.T) {
	d, err := New(executeFunc(succeed), Config{IdleInterval: 10 * time.Millisecond}, nil, zerolog.Nop())
	require.NoError(t, err)

	var calls int32
	d.SetNotifier(notifierFunc(func(o Outcome) {
		atomic.AddInt32(&calls, 1)
		panic("listener bug")
	}))

	_, _ = d.Join(types.QueueShared, member("a"))
	_, _ = d.Join(types.QueueShared, member("b"))
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, 2*time.Second, 5*time.Millisecond)
}

type notifierFunc func(Outcome)

func (f notifierFunc) JobSettled(o Outcome) { f(o) }
