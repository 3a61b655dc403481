package internal

import (
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// binding is what a starter triggers. It is replaced as a whole, never mutated.
type binding struct {
	worklet Worklet
	args    []int
}

// SharedWorkletStarter is a shared value that, when read, runs a worklet with other
// shared values as arguments. Reading it resolves the argument ids, hands the
// invocation to the applier scheduler and returns a handle on it.
//
// Nothing on its surface fails the caller: missing arguments, worklet errors and
// use after WillUnregister are reported to the error reporter, tagged with the
// starter's id, and the read returns undefined.
type SharedWorkletStarter struct {
	id int

	binding atomic.Pointer[binding]

	mu sync.Mutex

	unregistered       bool
	unregisterListener func()

	values   ValueLookup
	appliers ApplierScheduler
	errors   ErrorReporter

	// appliers triggered by this starter that have not left the scheduler
	started map[int]struct{}

	// goroutines currently resolving this starter's arguments, to catch cycles
	resolving sync.Map
}

// NewSharedWorkletStarter binds a worklet to the ordered argument ids. All
// collaborators are required.
func NewSharedWorkletStarter(
	id int,
	worklet Worklet,
	args []int,
	values ValueLookup,
	appliers ApplierScheduler,
	errors ErrorReporter,
) *SharedWorkletStarter {
	if worklet == nil || values == nil || appliers == nil || errors == nil {
		panic("internal: worklet starter requires a worklet, a value lookup, an applier scheduler and an error reporter")
	}

	s := &SharedWorkletStarter{
		id:       id,
		values:   values,
		appliers: appliers,
		errors:   errors,
		started:  make(map[int]struct{}),
	}
	s.binding.Store(&binding{worklet: worklet, args: append([]int(nil), args...)})

	return s
}

func (s *SharedWorkletStarter) ID() int {
	return s.id
}

// Args returns a copy of the argument ids of the current binding.
func (s *SharedWorkletStarter) Args() []int {
	return append([]int(nil), s.binding.Load().args...)
}

// AsValue triggers the worklet and returns the applier id as a number.
func (s *SharedWorkletStarter) AsValue(rt *goja.Runtime) goja.Value {
	inv, ok := s.trigger(rt, "asValue")
	if !ok {
		return goja.Undefined()
	}

	return rt.ToValue(inv.id)
}

// AsParameter triggers the worklet and returns an Invocation handle
// (id() and stop() from script).
func (s *SharedWorkletStarter) AsParameter(rt *goja.Runtime) goja.Value {
	inv, ok := s.trigger(rt, "asParameter")
	if !ok {
		return goja.Undefined()
	}

	return rt.ToValue(inv)
}

func (s *SharedWorkletStarter) trigger(rt *goja.Runtime, op string) (*Invocation, bool) {
	s.mu.Lock()
	if s.unregistered {
		errs := s.errors
		s.mu.Unlock()

		errs.Report(s.id, LifecycleMisuseError(s.id, op+" called after willUnregister"))
		return nil, false
	}
	values, errs := s.values, s.errors
	s.mu.Unlock()

	if rt == nil {
		errs.Report(s.id, LifecycleMisuseError(s.id, op+" called without a runtime"))
		return nil, false
	}

	// an argument that leads back to this starter would trigger it forever
	gid := getGID()
	if _, cycling := s.resolving.LoadOrStore(gid, struct{}{}); cycling {
		errs.Report(s.id, BindingError(s.id, "worklet starter is an argument of itself"))
		return nil, false
	}
	defer s.resolving.Delete(gid)

	// one snapshot for the whole trigger so SetNewValue can't tear it
	b := s.binding.Load()

	resolved := make([]SharedValue, len(b.args))
	missing := 0
	for i, argID := range b.args {
		sv, ok := values.Lookup(argID)
		if !ok {
			missing++
			errs.Report(s.id, ResolutionError(s.id, argID))
			continue
		}
		resolved[i] = sv
	}
	if missing > 0 {
		return nil, false
	}

	args := make([]goja.Value, len(resolved))
	for i, sv := range resolved {
		args[i] = sv.AsParameter(rt)

		// a starter argument that could not trigger already reported why
		if _, nested := sv.(*SharedWorkletStarter); nested && goja.IsUndefined(args[i]) {
			errs.Report(s.id, BindingError(s.id, "argument %d could not be triggered", b.args[i]))
			stopInvocations(args[:i])
			return nil, false
		}
	}

	a := &Applier{
		SourceID: s.id,
		Worklet:  b.worklet,
		Args:     args,
		OnError: func(err error) {
			errs.Report(s.id, ExecutionError(s.id, err))
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// torn down while resolving
	if s.unregistered {
		errs.Report(s.id, LifecycleMisuseError(s.id, op+" raced with willUnregister"))
		stopInvocations(args)
		return nil, false
	}

	appliers := s.appliers
	a.OnDone = func() { s.forget(a.ID) }

	id := appliers.RegisterApplier(a)
	s.started[id] = struct{}{}

	return &Invocation{id: id, appliers: appliers}, true
}

// stopInvocations cancels the runs triggered by starter arguments of an aborted trigger.
func stopInvocations(args []goja.Value) {
	for _, arg := range args {
		if inv, ok := arg.Export().(*Invocation); ok {
			inv.Stop()
		}
	}
}

func (s *SharedWorkletStarter) forget(applierID int) {
	s.mu.Lock()
	delete(s.started, applierID)
	s.mu.Unlock()
}

// SetNewValue rebinds this starter to the worklet and arguments of another starter.
// Any other value is a binding error and leaves the current binding in place.
func (s *SharedWorkletStarter) SetNewValue(sv SharedValue) {
	s.mu.Lock()
	unregistered, errs := s.unregistered, s.errors
	s.mu.Unlock()

	if unregistered {
		errs.Report(s.id, LifecycleMisuseError(s.id, "setNewValue called after willUnregister"))
		return
	}

	other, ok := sv.(*SharedWorkletStarter)
	switch {
	case !ok || other == nil:
		errs.Report(s.id, BindingError(s.id, "cannot rebind a worklet starter to %T", sv))
		return
	case other == s:
		return
	}

	s.binding.Store(other.binding.Load())

	Logger().Debug("rebound worklet starter",
		zap.Int("id", s.id),
		zap.Int("from", other.id))
}

// SetUnregisterListener sets the function run by WillUnregister, replacing any
// previous one. It does nothing once the starter is unregistered.
func (s *SharedWorkletStarter) SetUnregisterListener(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unregistered {
		return
	}
	s.unregisterListener = fn
}

// WillUnregister stops the appliers this starter triggered, runs the unregister
// listener and drops the registries. Only the first call has an effect.
func (s *SharedWorkletStarter) WillUnregister() {
	s.mu.Lock()
	if s.unregistered {
		s.mu.Unlock()
		return
	}
	s.unregistered = true

	listener := s.unregisterListener
	appliers := s.appliers
	errs := s.errors

	started := make([]int, 0, len(s.started))
	for id := range s.started {
		started = append(started, id)
	}

	s.unregisterListener = nil
	s.values = nil
	s.appliers = nil
	s.started = make(map[int]struct{})
	s.mu.Unlock()

	for _, id := range started {
		appliers.UnregisterApplier(id)
	}

	if listener != nil {
		s.runListener(listener, errs)
	}

	Logger().Debug("worklet starter unregistered",
		zap.Int("id", s.id),
		zap.Int("stopped_appliers", len(started)))
}

func (s *SharedWorkletStarter) runListener(listener func(), errs ErrorReporter) {
	defer func() {
		if r := recover(); r != nil {
			errs.Report(s.id, LifecycleMisuseError(s.id, "unregister listener panicked: "+panicError(r).Error()))
		}
	}()

	listener()
}

// Invocation is the script-facing handle of a triggered worklet.
type Invocation struct {
	id       int
	appliers ApplierScheduler
}

func (i *Invocation) ID() int { return i.id }

// Stop cancels the invocation if it has not finished yet.
func (i *Invocation) Stop() { i.appliers.UnregisterApplier(i.id) }
