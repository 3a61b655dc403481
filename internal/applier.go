package internal

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// DefaultFrameInterval is the render loop period when none is configured.
const DefaultFrameInterval = 16 * time.Millisecond

// ApplierScheduler accepts worklet invocations for deferred execution.
// RegisterApplier must not block.
type ApplierScheduler interface {
	RegisterApplier(a *Applier) int
	UnregisterApplier(id int)
}

// Applier is one worklet invocation bound to its resolved arguments.
type Applier struct {
	// assigned by RegisterApplier
	ID int

	SourceID int
	Worklet  Worklet
	Args     []goja.Value

	// OnError receives the error of a failed run. OnDone is called once when the
	// applier leaves the registry, whether it finished, failed or was unregistered.
	OnError func(error)
	OnDone  func()

	// Args exported to Go values on the registering goroutine, imported again
	// into the render runtime.
	params []any

	cancelled atomic.Bool
}

// undefinedParam marks an undefined argument, which Export turns into nil.
type undefinedParam struct{}

// ApplierRegistry runs appliers frame by frame, on whichever goroutine renders.
type ApplierRegistry struct {
	mu sync.Mutex

	nextID  int
	pending *ApplierQueue
	active  []*Applier
	byID    map[int]*Applier

	scheduler *FrameScheduler
	wake      chan struct{}
	loopGID   atomic.Int64

	metrics *Metrics
}

func NewApplierRegistry(metrics *Metrics) *ApplierRegistry {
	r := &ApplierRegistry{
		pending:   NewApplierQueue(),
		active:    make([]*Applier, 0),
		byID:      make(map[int]*Applier),
		scheduler: NewFrameScheduler(),
		wake:      make(chan struct{}, 1),
		metrics:   metrics,
	}
	r.loopGID.Store(-1)

	return r
}

// RegisterApplier queues a for the next frame and returns its id.
func (r *ApplierRegistry) RegisterApplier(a *Applier) int {
	params := make([]any, len(a.Args))
	for i, arg := range a.Args {
		params[i] = exportParam(arg)
	}

	r.mu.Lock()
	r.nextID++
	a.ID = r.nextID
	a.params = params
	r.byID[a.ID] = a
	r.pending.Enqueue(a)
	r.mu.Unlock()

	r.metrics.registered()
	r.scheduler.Schedule()

	select {
	case r.wake <- struct{}{}:
	default:
		// already woken
	}

	Logger().Debug("registered applier",
		zap.Int("applier_id", a.ID),
		zap.Int("source_id", a.SourceID),
		zap.Int("args", len(params)))

	return a.ID
}

// UnregisterApplier cancels a pending or running applier. Unknown ids are ignored.
func (r *ApplierRegistry) UnregisterApplier(id int) {
	r.mu.Lock()
	a, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		a.cancelled.Store(true)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.metrics.cancelled()
	a.done()
}

// Active returns the number of appliers that have not left the registry.
func (r *ApplierRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byID)
}

// Frames returns the number of rendered frames.
func (r *ApplierRegistry) Frames() int64 {
	return r.scheduler.Time()
}

// OnLoop reports whether the caller is the goroutine running Run.
func (r *ApplierRegistry) OnLoop() bool {
	return r.loopGID.Load() == getGID()
}

// Render runs one frame on rt and returns the number of appliers still active.
//
// Appliers run in registration order. A worklet returning false stays for the next
// frame; any other result, an error or a panic removes the applier. Appliers
// registered during the frame start on the next one.
func (r *ApplierRegistry) Render(rt *goja.Runtime) int {
	if !r.scheduler.Run(func() { r.render(rt) }) {
		Logger().Warn("refusing to render from inside a frame")
	}

	return r.Active()
}

func (r *ApplierRegistry) render(rt *goja.Runtime) {
	start := time.Now()

	r.mu.Lock()
	r.active = append(r.active, r.pending.Drain()...)
	frame := slices.Clone(r.active)
	r.mu.Unlock()

	for _, a := range frame {
		if a.cancelled.Load() {
			continue
		}

		again, err := r.apply(rt, a)
		if err != nil {
			r.finish(a, err)
			continue
		}
		if !again {
			r.finish(a, nil)
		}
	}

	r.mu.Lock()
	r.active = slices.DeleteFunc(r.active, func(a *Applier) bool {
		return a.cancelled.Load()
	})
	r.mu.Unlock()

	r.metrics.frame(time.Since(start).Seconds())
}

func (r *ApplierRegistry) apply(rt *goja.Runtime, a *Applier) (again bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			again, err = false, panicError(rec)
		}
	}()

	args := make([]goja.Value, len(a.params))
	for i, p := range a.params {
		args[i] = importParam(rt, p)
	}

	res, err := a.Worklet.Run(rt, args)
	if err != nil {
		return false, err
	}

	if res != nil {
		if b, ok := res.Export().(bool); ok && !b {
			return true, nil
		}
	}

	return false, nil
}

func (r *ApplierRegistry) finish(a *Applier, err error) {
	r.mu.Lock()
	_, ok := r.byID[a.ID]
	delete(r.byID, a.ID)
	a.cancelled.Store(true)
	r.mu.Unlock()

	if !ok {
		// unregistered while running
		return
	}

	r.metrics.finished(err != nil)

	if err != nil {
		Logger().Debug("applier failed",
			zap.Int("applier_id", a.ID),
			zap.Int("source_id", a.SourceID),
			zap.Error(err))
		a.fail(err)
	}

	a.done()
}

// Run renders on every tick of interval and whenever an applier is registered,
// using the calling goroutine's script runtime, until ctx is done.
func (r *ApplierRegistry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}

	r.loopGID.Store(getGID())
	defer r.loopGID.Store(-1)

	rt := ScriptRuntime()
	defer ReleaseScriptRuntime()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	Logger().Debug("render loop started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			Logger().Debug("render loop stopped", zap.Int64("frames", r.Frames()))
			return ctx.Err()
		case <-r.wake:
			r.Render(rt)
		case <-ticker.C:
			if r.scheduler.Scheduled() || r.Active() > 0 {
				r.Render(rt)
			}
		}
	}
}

// Clear unregisters every applier.
func (r *ApplierRegistry) Clear() {
	r.mu.Lock()
	ids := make([]int, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		r.UnregisterApplier(id)
	}
}

func (a *Applier) fail(err error) {
	if a.OnError == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			Logger().Error("applier error hook panicked",
				zap.Int("applier_id", a.ID),
				zap.Any("panic", rec))
		}
	}()

	a.OnError(err)
}

func (a *Applier) done() {
	if a.OnDone != nil {
		a.OnDone()
	}
}

func exportParam(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) {
		return undefinedParam{}
	}
	return v.Export()
}

func importParam(rt *goja.Runtime, p any) goja.Value {
	if _, ok := p.(undefinedParam); ok {
		return goja.Undefined()
	}
	return rt.ToValue(p)
}
