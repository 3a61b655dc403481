package worklet

import (
	"context"
	"reflect"
	"time"

	"github.com/AnatoleLucet/worklet/internal"
	"github.com/dop251/goja"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type (
	Worklet     = internal.Worklet
	WorkletFunc = internal.WorkletFunc
	Report      = internal.Report
	Error       = internal.Error
	Kind        = internal.Kind
)

const (
	KindResolution      = internal.KindResolution
	KindExecution       = internal.KindExecution
	KindLifecycleMisuse = internal.KindLifecycleMisuse
	KindBinding         = internal.KindBinding
)

var (
	ErrResolution      = internal.ErrResolution
	ErrExecution       = internal.ErrExecution
	ErrLifecycleMisuse = internal.ErrLifecycleMisuse
	ErrBinding         = internal.ErrBinding
)

// CompileWorklet compiles a JavaScript function expression into a worklet.
// The worklet receives its arguments in declaration order; a Mutable argument is
// a handle with get(), set(v) and id(). Returning false asks to run again on the
// next frame.
func CompileWorklet(name, source string) (Worklet, error) {
	return internal.CompileWorklet(name, source)
}

func as[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}

	if t, ok := v.(T); ok {
		return t
	}

	// scripts hand numbers back as int64 or float64
	target := reflect.TypeFor[T]()
	rv := reflect.ValueOf(v)
	if numeric(rv.Kind()) && numeric(target.Kind()) {
		return rv.Convert(target).Interface().(T)
	}

	var zero T
	return zero
}

func numeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

type Option func(*options)

type options struct {
	logger   *zap.Logger
	registry prometheus.Registerer
	interval time.Duration
}

// WithLogger sets the logger used by the registries and worklet consoles.
// The logger is package wide: it replaces the logger of every bridge in the process.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics registers the bridge's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithFrameInterval sets the render loop period used by Run.
func WithFrameInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// Bridge ties shared values, the applier registry and the error handler together.
type Bridge struct {
	values   *internal.SharedValueRegistry
	appliers *internal.ApplierRegistry
	errors   *internal.ErrorHandler

	interval time.Duration
}

// New creates a bridge.
func New(opts ...Option) *Bridge {
	o := &options{interval: internal.DefaultFrameInterval}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger != nil {
		internal.SetLogger(o.logger)
	}

	metrics := internal.NewMetrics(o.registry)

	return &Bridge{
		values:   internal.NewSharedValueRegistry(),
		appliers: internal.NewApplierRegistry(metrics),
		errors:   internal.NewErrorHandler(metrics),
		interval: o.interval,
	}
}

// Read evaluates the shared value registered under id on the caller's runtime.
// Reading a Starter triggers it and returns the applier id. Unknown ids read as nil.
func (b *Bridge) Read(id int) any {
	sv, ok := b.values.Lookup(id)
	if !ok {
		return nil
	}

	return sv.AsValue(internal.ScriptRuntime()).Export()
}

// Unregister removes the shared value registered under id.
func (b *Bridge) Unregister(id int) bool {
	return b.values.Unregister(id)
}

// IDs returns the registered shared value ids in ascending order.
func (b *Bridge) IDs() []int {
	return b.values.IDs()
}

// Frame renders one frame on the caller's goroutine and returns the number of
// appliers still active.
func (b *Bridge) Frame() int {
	return b.appliers.Render(internal.ScriptRuntime())
}

// Active returns the number of triggered worklets that have not finished.
func (b *Bridge) Active() int {
	return b.appliers.Active()
}

// Run renders frames on the calling goroutine until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	return b.appliers.Run(ctx, b.interval)
}

// OnError adds a function called for every reported error.
func (b *Bridge) OnError(fn func(Report)) {
	b.errors.OnError(fn)
}

// Reports returns every error reported so far.
func (b *Bridge) Reports() []Report {
	return b.errors.Reports()
}

// Close stops every triggered worklet and unregisters every shared value.
func (b *Bridge) Close() {
	b.appliers.Clear()
	b.values.Close()
}

type Mutable[T any] struct {
	value *internal.MutableValue
}

// NewMutable registers a plain shared value under id.
func NewMutable[T any](b *Bridge, id int, initial T) *Mutable[T] {
	m := &Mutable[T]{internal.NewMutableValue(id, initial)}
	b.values.Register(id, m.value)

	return m
}

func (m *Mutable[T]) ID() int { return m.value.ID() }

// Get returns the current value, including writes made by worklets.
func (m *Mutable[T]) Get() T { return as[T](m.value.Get()) }

func (m *Mutable[T]) Set(v T) { m.value.Set(v) }

type Starter struct {
	starter *internal.SharedWorkletStarter
}

// NewStarter registers a worklet starter under id. Each trigger runs w with the
// shared values registered under args, in that order.
func (b *Bridge) NewStarter(id int, w Worklet, args ...int) *Starter {
	s := &Starter{internal.NewSharedWorkletStarter(id, w, args, b.values, b.appliers, b.errors)}
	b.values.Register(id, s.starter)

	return s
}

func (s *Starter) ID() int { return s.starter.ID() }

// Trigger queues a run of the worklet and returns its applier id.
// It returns false when the run could not be queued; the reason is reported to
// the bridge's error handler.
func (s *Starter) Trigger() (int, bool) {
	v := s.starter.AsValue(internal.ScriptRuntime())
	if goja.IsUndefined(v) {
		return 0, false
	}

	return int(v.ToInteger()), true
}

// Rebind makes s trigger the worklet and arguments of other.
func (s *Starter) Rebind(other *Starter) {
	s.starter.SetNewValue(other.starter)
}

// OnUnregister sets the function run once when s is unregistered.
func (s *Starter) OnUnregister(fn func()) {
	s.starter.SetUnregisterListener(fn)
}
