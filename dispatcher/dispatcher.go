package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// settleTimeout bounds how long Stop waits for pending results to be reported
const settleTimeout = 5 * time.Second

// Stats counts what the dispatcher has done so far
type Stats struct {
	Submitted   int64 // tasks accepted by the task queue
	Rejected    int64 // tasks dropped because the task queue was full
	Reported    int64 // results handed to the result handler
	DrainErrors int64 // notifications that found nothing usable to drain
}

// WorkerInfo is a snapshot of one worker
type WorkerInfo struct {
	ID        int
	PID       int
	QueueName string
	Remaining int
	Exited    bool
}

// Option customizes a Dispatcher
type Option func(*Dispatcher)

// WithResultHandler sets where reported results go. The default logs them.
func WithResultHandler(h ResultHandler) Option {
	return func(d *Dispatcher) { d.resultHandler = h }
}

// WithSpawner replaces the default GoroutineSpawner
func WithSpawner(s Spawner) Option {
	return func(d *Dispatcher) { d.spawner = s }
}

// WithRegistry makes the dispatcher create its queues in r
func WithRegistry(r *Registry) Option {
	return func(d *Dispatcher) { d.registry = r }
}

/*
Dispatcher spawns a fixed group of workers, feeds them tasks through a shared
bounded queue and collects their results through one notification per worker.
It tracks live workers from exit notifications and shuts down once none are
left.
*/
type Dispatcher struct {
	config        Config             // Configuration parameters for the dispatcher
	runID         string             // Makes queue names unique per dispatcher
	registry      *Registry          // Named queues shared with the workers
	spawner       Spawner            // Starts workers and reports their exits
	processor     TaskProcessor      // Does the work of a single task inside a worker
	resultHandler ResultHandler      // Receives every drained result
	ctx           context.Context    // Group context; cancelling it kills every worker
	cancel        context.CancelFunc // Function to cancel the above context

	mu        sync.Mutex
	tasks     *Queue
	handles   map[int]*WorkerHandle // by pid
	order     []*WorkerHandle       // in spawn order
	started   bool
	spawned   bool // all workers are through the handshake
	closed    bool
	err       error // first fatal error
	drained   chan struct{}
	isDrained bool

	live        atomic.Int64
	nextTaskID  atomic.Int64
	submitted   atomic.Int64
	rejected    atomic.Int64
	reported    atomic.Int64
	drainErrors atomic.Int64

	reaperStop chan struct{}
	reaperDone chan struct{}
}

/*
NewDispatcher creates a new Dispatcher whose workers sum task operands after a
random delay in [config.WorkMin, config.WorkMax].
*/
func NewDispatcher(config Config, opts ...Option) *Dispatcher {
	return NewDispatcherWithCustomProcessor(config, NewSumProcessor(config.WorkMin, config.WorkMax), opts...)
}

/*
NewDispatcherWithCustomProcessor creates a new Dispatcher instance using a custom task processor.
Parameters:
  - config: the configuration settings for the dispatcher.
  - processor: the task processor every worker uses.
  - opts: optional result handler, spawner or registry.

Returns a pointer to the newly created Dispatcher.
*/
func NewDispatcherWithCustomProcessor(config Config, processor TaskProcessor, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		config:        config,
		runID:         uuid.NewString(),
		processor:     processor,
		resultHandler: LogResultHandler{},
		ctx:           ctx,
		cancel:        cancel,
		handles:       make(map[int]*WorkerHandle),
		drained:       make(chan struct{}),
		reaperStop:    make(chan struct{}),
		reaperDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = NewRegistry()
	}
	if d.spawner == nil {
		limit := config.MaxWorkers
		if limit < config.NumWorkers {
			limit = config.NumWorkers
		}
		d.spawner = NewGoroutineSpawner(limit)
	}
	return d
}

func (d *Dispatcher) taskQueueName() string {
	return fmt.Sprintf("/task_queue_%s", d.runID)
}

func (d *Dispatcher) resultQueueName(workerID int) string {
	return fmt.Sprintf("/result_queue_%s_%d", d.runID, workerID)
}

/*
Start creates the task queue and spawns the workers one by one. A worker only
counts as live once its result queue is open and its notification is armed.
Any failure here is fatal: the group is terminated and the error returned.
*/
func (d *Dispatcher) Start() error {
	if err := d.config.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	if d.started {
		d.mu.Unlock()
		return errors.New("dispatcher already started")
	}
	d.started = true
	d.mu.Unlock()

	log.Printf("[DISPATCHER] Starting with %d workers", d.config.NumWorkers)
	// The reaper has to run before the first spawn, or an early exit is missed.
	go d.reap()

	tasks, err := d.registry.Create(d.taskQueueName(), d.config.QueueSize, d.config.MaxMessageSize)
	if err != nil {
		err = fmt.Errorf("create task queue: %w", err)
		d.Terminate(err)
		return err
	}
	d.mu.Lock()
	d.tasks = tasks
	d.mu.Unlock()

	// Workers are started one at a time; a failure kills the ones already running.
	for i := 1; i <= d.config.NumWorkers; i++ {
		if err := d.spawn(i); err != nil {
			d.Terminate(err)
			return err
		}
	}

	// Only now may a zero live count mean the group is done.
	d.mu.Lock()
	d.spawned = true
	d.checkDrainedLocked()
	d.mu.Unlock()
	return nil
}

// spawn starts worker id and completes its readiness handshake
func (d *Dispatcher) spawn(id int) error {
	h := newWorkerHandle(id, d.config.Quota)

	// Held across Spawn so the reaper cannot see the exit before the handle.
	d.mu.Lock()
	pid, err := d.spawner.Spawn(d.ctx, func(ctx context.Context) error {
		return d.runWorker(ctx, h)
	})
	if err != nil {
		d.mu.Unlock()
		return &SpawnError{WorkerID: id, Err: err}
	}
	h.PID = pid
	d.handles[pid] = h
	d.order = append(d.order, h)
	d.mu.Unlock()

	// Wait for the worker to announce its result queue
	var name string
	select {
	case name = <-h.ready:
	case <-h.done:
		return NewWorkerError(id, "handshake", d.exitErr(h))
	case <-d.ctx.Done():
		return NewWorkerError(id, "handshake", ErrGroupTerminated)
	}

	// Open the worker's queue by name, the same way any other process would
	results, err := d.registry.Open(name)
	if err != nil {
		return NewWorkerError(id, "open result queue", err)
	}
	d.mu.Lock()
	h.QueueName = name
	h.results = results
	d.mu.Unlock()

	// Arm before counting so no result can arrive unheard
	if err := d.arm(h); err != nil {
		return NewWorkerError(id, "register notification", err)
	}

	d.mu.Lock()
	if h.exited {
		d.mu.Unlock()
		return NewWorkerError(id, "handshake", d.exitErr(h))
	}
	h.counted = true
	live := d.live.Add(1)
	d.mu.Unlock()

	// Release the worker into its task loop
	close(h.start)
	log.Debugf("[DISPATCHER] Worker %d (pid %d) registered, %d live", id, pid, live)
	return nil
}

func (d *Dispatcher) exitErr(h *WorkerHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	return ErrWorkerExited
}

// arm registers the one-shot notification for h's result queue
func (d *Dispatcher) arm(h *WorkerHandle) error {
	return h.results.Notify(func() { d.onArrival(h) })
}

/*
onArrival runs once per armed notification. It drains a single result,
reports it on behalf of h and arms the next notification. The re-arm happens
even when the drain fails, otherwise every later result from h would be lost.
*/
func (d *Dispatcher) onArrival(h *WorkerHandle) {
	d.report(h)

	if err := d.arm(h); err != nil && !errors.Is(err, ErrQueueClosed) {
		log.Errorf("[DISPATCHER] Re-registering notification for worker %d: %v", h.ID, err)
	}
}

func (d *Dispatcher) report(h *WorkerHandle) {
	msg, err := h.results.ReceiveTimeout(0)
	if err != nil {
		if !errors.Is(err, ErrQueueClosed) {
			d.drainErrors.Add(1)
			log.Errorf("[DISPATCHER] Draining results of worker %d: %v", h.ID, err)
		}
		return
	}

	result, err := DecodeResult(msg)
	if err != nil {
		d.drainErrors.Add(1)
		log.Errorf("[DISPATCHER] Draining results of worker %d: %v", h.ID, err)
		return
	}
	result.WorkerID = h.ID

	if err := d.resultHandler.HandleResult(result); err != nil {
		log.Errorf("[DISPATCHER] Failed to handle result for task %d from worker %d: %v", result.TaskID, h.ID, err)
		return
	}
	d.reported.Add(1)
}

// reap consumes exit notifications until Stop
func (d *Dispatcher) reap() {
	defer close(d.reaperDone)
	exits := d.spawner.Exits()
	for {
		select {
		case ex := <-exits:
			d.onExit(ex)
		case <-d.reaperStop:
			return
		}
	}
}

func (d *Dispatcher) onExit(ex Exit) {
	d.mu.Lock()
	h, ok := d.handles[ex.PID]
	if !ok || h.exited {
		d.mu.Unlock()
		log.Warnf("[DISPATCHER] Exit from unknown pid %d", ex.PID)
		return
	}
	h.exited = true
	h.err = ex.Err
	close(h.done)

	// Workers that died during the handshake were never counted
	live := d.live.Load()
	if h.counted {
		live = d.live.Add(-1)
	}
	// The error has to be visible before Wait can see the count hit zero.
	first := ex.Err != nil && d.setErrLocked(ex.Err)
	d.checkDrainedLocked()
	d.mu.Unlock()

	if ex.Err != nil {
		d.terminate(ex.Err, first)
		return
	}
	log.Printf("[DISPATCHER] Worker %d exited, %d still running", h.ID, live)
}

// checkDrainedLocked closes d.drained once every worker is spawned and gone.
// d.mu must be held.
func (d *Dispatcher) checkDrainedLocked() {
	if d.spawned && !d.isDrained && d.live.Load() == 0 {
		d.isDrained = true
		close(d.drained)
	}
}

/*
Submit enqueues a task without blocking.
It returns ErrTaskQueueFull when the task queue is at capacity; the task is
dropped and not retried. After Stop or a fatal error it returns
ErrDispatcherClosed.
*/
func (d *Dispatcher) Submit(task Task) error {
	d.mu.Lock()
	if d.closed || d.tasks == nil {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	tasks := d.tasks
	d.mu.Unlock()

	if d.ctx.Err() != nil {
		return ErrDispatcherClosed
	}

	payload, err := EncodeTask(task, d.config.MaxMessageSize)
	if err != nil {
		return err
	}

	if err := tasks.Send(payload); err != nil {
		switch {
		case errors.Is(err, ErrQueueFull):
			d.rejected.Add(1)
			return ErrTaskQueueFull
		case errors.Is(err, ErrQueueClosed):
			return ErrDispatcherClosed
		default:
			return err
		}
	}
	d.submitted.Add(1)
	log.Debugf("[DISPATCHER] New task %d queued: [%.2f, %.2f]", task.ID, task.V1, task.V2)
	return nil
}

// NewTask returns a task with the next id and two random operands
func (d *Dispatcher) NewTask() Task {
	return Task{
		ID: int(d.nextTaskID.Add(1)),
		V1: randomOperand(d.config.OperandMax),
		V2: randomOperand(d.config.OperandMax),
	}
}

// randomOperand returns a value in [0, limit+0.99] with two decimals
func randomOperand(limit int) float64 {
	return float64(rand.Intn(limit+1)) + float64(rand.Intn(100))/100
}

/*
Generate submits up to config.TaskBudget tasks, waiting a random interval in
[config.ArrivalMin, config.ArrivalMax] before each. Full-queue rejections are
logged and the task is dropped. Generation stops early once every worker has
exited. With a DrainTimeout set, Generate then waits that long for the workers
and terminates the group if any are still running.
*/
func (d *Dispatcher) Generate(ctx context.Context) error {
	for i := 0; i < d.config.TaskBudget; i++ {
		timer := time.NewTimer(randomDuration(d.config.ArrivalMin, d.config.ArrivalMax))
		select {
		case <-timer.C:
		case <-d.drained:
			timer.Stop()
			log.Printf("[DISPATCHER] All workers exited, generated %d of %d tasks", i, d.config.TaskBudget)
			return nil
		case <-d.ctx.Done():
			timer.Stop()
			return d.groupErr()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		task := d.NewTask()
		if err := d.Submit(task); err != nil {
			if errors.Is(err, ErrTaskQueueFull) {
				log.Warnf("[DISPATCHER] Queue is full, dropping task %d", task.ID)
				continue
			}
			// The group died between the timer and Submit: report why.
			if errors.Is(err, ErrDispatcherClosed) && (d.ctx.Err() != nil || d.Err() != nil) {
				return d.groupErr()
			}
			return err
		}
	}

	if d.config.DrainTimeout <= 0 {
		return nil
	}
	timer := time.NewTimer(d.config.DrainTimeout)
	defer timer.Stop()
	select {
	case <-d.drained:
		return nil
	case <-timer.C:
		d.Terminate(ErrDrainTimeout)
		return ErrDrainTimeout
	case <-d.ctx.Done():
		return d.groupErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

/*
Wait blocks until the live-worker count reaches zero after Start.
It returns early with the fatal error if the group is terminated, or with
ctx's error if ctx is done first.
*/
func (d *Dispatcher) Wait(ctx context.Context) error {
	select {
	case <-d.drained:
		if err := d.Err(); err != nil {
			return err
		}
		log.Printf("[DISPATCHER] All workers have finished")
		return nil
	case <-d.ctx.Done():
		return d.groupErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

/*
Run starts the workers, generates tasks and waits for every worker to exit,
then stops the dispatcher. Cancelling ctx terminates the whole group at once.
*/
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.Stop()

	if err := d.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Generate(gctx) })
	g.Go(func() error { return d.Wait(gctx) })

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			d.Terminate(fmt.Errorf("interrupted: %w", ctx.Err()))
		}
		return err
	}
	return nil
}

// Terminate kills every worker immediately. The first error passed to
// Terminate is kept and returned by Err.
func (d *Dispatcher) Terminate(err error) {
	if err == nil {
		err = ErrGroupTerminated
	}
	d.mu.Lock()
	first := d.setErrLocked(err)
	d.mu.Unlock()
	d.terminate(err, first)
}

func (d *Dispatcher) terminate(err error, first bool) {
	if first {
		log.Errorf("[DISPATCHER] Terminating worker group: %v", err)
	}
	d.cancel()
}

// setErrLocked records err unless an earlier error is already recorded.
// d.mu must be held.
func (d *Dispatcher) setErrLocked(err error) bool {
	if d.err != nil {
		return false
	}
	d.err = err
	return true
}

// Err returns the fatal error that terminated the group, if any
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Dispatcher) groupErr() error {
	if err := d.Err(); err != nil {
		return err
	}
	return ErrGroupTerminated
}

/*
Stop shuts the dispatcher down.
Workers still running are terminated. Once every spawned worker has exited,
pending results are reported and all queues created for this dispatcher are
unlinked. Stop is idempotent.
*/
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	handles := append([]*WorkerHandle(nil), d.order...)
	d.mu.Unlock()

	log.Printf("[DISPATCHER] Stopping")
	// Kill whatever is still running
	d.cancel()
	if !started {
		return
	}

	// Every spawned worker reports an exit, so this cannot hang
	for _, h := range handles {
		<-h.done
	}
	close(d.reaperStop)
	<-d.reaperDone

	// Let the notification chains report what the workers published

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	settled := true
	for _, h := range handles {
		if h.results == nil {
			continue
		}
		if err := h.results.Settle(ctx); err != nil {
			settled = false
			log.Warnf("[DISPATCHER] %v", err)
		}
	}

	// Unlinking closes the queues
	_ = d.registry.Unlink(d.taskQueueName())
	for _, h := range handles {
		_ = d.registry.Unlink(d.resultQueueName(h.ID))
	}

	// Only safe once no callback can still be running.
	if handler, ok := d.resultHandler.(*ChannelResultHandler); ok && settled {
		close(handler.results)
	}
	log.Printf("[DISPATCHER] Shut down")
}

// Live returns the number of workers that have completed the handshake and not yet exited
func (d *Dispatcher) Live() int64 {
	return d.live.Load()
}

// Stats returns a snapshot of the dispatcher's counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:   d.submitted.Load(),
		Rejected:    d.rejected.Load(),
		Reported:    d.reported.Load(),
		DrainErrors: d.drainErrors.Load(),
	}
}

// Workers returns a snapshot of every spawned worker in spawn order
func (d *Dispatcher) Workers() []WorkerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	infos := make([]WorkerInfo, 0, len(d.order))
	for _, h := range d.order {
		infos = append(infos, WorkerInfo{
			ID:        h.ID,
			PID:       h.PID,
			QueueName: h.QueueName,
			Remaining: h.Remaining(),
			Exited:    h.exited,
		})
	}
	return infos
}
