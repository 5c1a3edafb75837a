package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"aiscript/internal/queue"
	"aiscript/internal/telemetry"
	"aiscript/pkg/types"
)

const (
	defaultJobTimeout   = 10 * time.Minute
	defaultIdleInterval = 5 * time.Second
)

// Executor runs one generation job. It is called with at most one job in flight.
type Executor interface {
	Execute(ctx context.Context, member *types.QueueMember) (*types.Book, error)
}

// Notifier is told about every settled job after the member has left its queue.
type Notifier interface {
	JobSettled(outcome Outcome)
}

// Outcome describes one settled job. Err is nil on success.
type Outcome struct {
	Class    types.QueueClass
	Member   *types.QueueMember
	Book     *types.Book
	Err      error
	Size     int // queue size after removal
	Duration time.Duration
}

// JoinResult is the admission answer for a Join call.
type JoinResult struct {
	Status   types.QueueStatus
	Position int
	Size     int
}

// Config tunes the dispatch loop. Zero values select defaults.
type Config struct {
	JobTimeout   time.Duration
	IdleInterval time.Duration
}

// Dispatcher owns the priority and shared queues and drains them one job at a time.
// Priority members always go first, so a busy priority queue starves the shared one.
type Dispatcher struct {
	mu       sync.Mutex
	queues   map[types.QueueClass]*queue.Queue[*types.QueueMember]
	inFlight *types.QueueMember

	executor Executor
	notifier Notifier
	metrics  *telemetry.Metrics
	cfg      Config
	logger   zerolog.Logger

	wake chan struct{}

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a dispatcher with empty queues. metrics may be nil.
func New(executor Executor, cfg Config, metrics *telemetry.Metrics, logger zerolog.Logger) (*Dispatcher, error) {
	if executor == nil {
		return nil, ErrNilExecutor
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = defaultIdleInterval
	}

	return &Dispatcher{
		queues: map[types.QueueClass]*queue.Queue[*types.QueueMember]{
			types.QueuePriority: queue.NewQueue[*types.QueueMember](),
			types.QueueShared:   queue.NewQueue[*types.QueueMember](),
		},
		executor: executor,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		wake:     make(chan struct{}, 1),
	}, nil
}

// SetNotifier installs the outcome receiver. Call before Start.
func (d *Dispatcher) SetNotifier(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifier = n
}

// Join admits member to the class queue unless the user already waits there.
func (d *Dispatcher) Join(class types.QueueClass, member *types.QueueMember) (JoinResult, error) {
	if !class.Valid() {
		return JoinResult{}, types.ErrInvalidQueueClass
	}
	if member == nil {
		return JoinResult{}, ErrNilMember
	}
	if !types.IsValidUserID(member.UserID) {
		return JoinResult{}, types.ErrInvalidUserID
	}

	d.mu.Lock()
	q := d.queues[class]

	if pos := positionOf(q, member.UserID); pos != types.PositionNotQueued {
		size := q.Size()
		d.mu.Unlock()
		return JoinResult{Status: types.StatusAlreadyInQueue, Position: pos, Size: size}, nil
	}

	if member.InstanceID == "" {
		member.InstanceID = uuid.New().String()
	}
	if member.EnqueuedAt.IsZero() {
		member.EnqueuedAt = time.Now()
	}
	q.Enqueue(member)
	size := q.Size()
	d.mu.Unlock()

	d.signal()
	d.metrics.RecordJoin(context.Background(), string(class))

	return JoinResult{Status: types.StatusQueued, Position: size, Size: size}, nil
}

// Position returns the 1-based position of userID, or types.PositionNotQueued.
func (d *Dispatcher) Position(class types.QueueClass, userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[class]
	if !ok {
		return types.PositionNotQueued
	}
	return positionOf(q, userID)
}

// Leave removes the user's waiting members from the class queue. The member
// currently being processed stays until its job settles.
func (d *Dispatcher) Leave(class types.QueueClass, userID string) (removed int, size int) {
	d.mu.Lock()
	q, ok := d.queues[class]
	if !ok {
		d.mu.Unlock()
		return 0, 0
	}

	inFlight := d.inFlight
	removed = q.Filter(func(m *types.QueueMember) bool {
		return m.UserID != userID || m == inFlight
	})
	size = q.Size()
	d.mu.Unlock()

	d.metrics.RecordLeave(context.Background(), string(class), removed)
	return removed, size
}

// Size returns the number of members in the class queue, including one in flight.
func (d *Dispatcher) Size(class types.QueueClass) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[class]; ok {
		return q.Size()
	}
	return 0
}

// Sizes returns both queue sizes.
func (d *Dispatcher) Sizes() map[types.QueueClass]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return map[types.QueueClass]int{
		types.QueueShared:   d.queues[types.QueueShared].Size(),
		types.QueuePriority: d.queues[types.QueuePriority].Size(),
	}
}

// Members returns a snapshot of the class queue in dispatch order.
func (d *Dispatcher) Members(class types.QueueClass) []*types.QueueMember {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[class]; ok {
		return q.Items()
	}
	return nil
}

// InFlight returns the member being processed, if any.
func (d *Dispatcher) InFlight() (*types.QueueMember, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight, d.inFlight != nil
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	if d.running {
		return ErrDispatcherAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	d.logger.Info().Dur("job_timeout", d.cfg.JobTimeout).Msg("starting dispatcher")
	go d.run(runCtx, d.done)

	return nil
}

// Stop cancels the loop and waits for it to exit. A job in flight sees its
// context cancelled.
func (d *Dispatcher) Stop() error {
	d.stateMu.Lock()
	if !d.running {
		d.stateMu.Unlock()
		return ErrDispatcherNotRunning
	}
	d.running = false
	cancel, done := d.cancel, d.done
	d.stateMu.Unlock()

	d.logger.Info().Msg("stopping dispatcher")
	cancel()
	<-done

	return nil
}

// IsRunning reports whether the loop is active.
func (d *Dispatcher) IsRunning() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.running
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer d.logger.Info().Msg("dispatcher stopped")

	ticker := time.NewTicker(d.cfg.IdleInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		if d.step(ctx) {
			continue
		}

		select {
		case <-d.wake:
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// step processes the head of the first non-empty queue. It reports false when both are empty.
func (d *Dispatcher) step(ctx context.Context) bool {
	d.mu.Lock()
	class, member, ok := d.next()
	if !ok {
		d.mu.Unlock()
		return false
	}
	d.inFlight = member
	d.mu.Unlock()

	logger := d.logger.With().
		Str("queue", string(class)).
		Str("user_id", member.UserID).
		Str("instance_id", member.InstanceID).
		Logger()
	logger.Debug().Msg("processing member")

	started := time.Now()
	book, err := d.execute(ctx, member)
	duration := time.Since(started)

	d.mu.Lock()
	q := d.queues[class]
	q.Filter(func(m *types.QueueMember) bool {
		return m.InstanceID != member.InstanceID
	})
	size := q.Size()
	d.inFlight = nil
	notifier := d.notifier
	d.mu.Unlock()

	outcome := telemetry.OutcomeProcessed
	if err != nil {
		outcome = telemetry.OutcomeFailed
		logger.Warn().Err(err).Dur("duration", duration).Msg("job failed")
	} else {
		logger.Info().Dur("duration", duration).Msg("job processed")
	}
	d.metrics.RecordJob(ctx, string(class), outcome, duration)

	d.notify(notifier, Outcome{
		Class:    class,
		Member:   member,
		Book:     book,
		Err:      err,
		Size:     size,
		Duration: duration,
	})

	return true
}

// next picks the head of the priority queue, falling back to shared. Caller holds mu.
func (d *Dispatcher) next() (types.QueueClass, *types.QueueMember, bool) {
	for _, class := range []types.QueueClass{types.QueuePriority, types.QueueShared} {
		if member, ok := d.queues[class].Peek(); ok {
			return class, member, true
		}
	}
	return "", nil, false
}

func (d *Dispatcher) execute(ctx context.Context, member *types.QueueMember) (book *types.Book, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, r)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
	defer cancel()

	return d.executor.Execute(jobCtx, member)
}

func (d *Dispatcher) notify(notifier Notifier, outcome Outcome) {
	if notifier == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("notifier panicked")
		}
	}()

	notifier.JobSettled(outcome)
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func positionOf(q *queue.Queue[*types.QueueMember], userID string) int {
	for i, m := range q.Items() {
		if m.UserID == userID {
			return i + 1
		}
	}
	return types.PositionNotQueued
}
