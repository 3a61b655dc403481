package internal

import (
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// MutableValue is the plain holder variant: a cell with a Go value.
type MutableValue struct {
	mu sync.RWMutex

	id    int
	value any
}

func NewMutableValue(id int, initial any) *MutableValue {
	return &MutableValue{
		id:    id,
		value: initial,
	}
}

func (v *MutableValue) ID() int {
	return v.id
}

func (v *MutableValue) Get() any {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.value
}

func (v *MutableValue) Set(value any) {
	v.mu.Lock()
	v.value = value
	v.mu.Unlock()
}

func (v *MutableValue) AsValue(rt *goja.Runtime) goja.Value {
	if rt == nil {
		return goja.Undefined()
	}
	return rt.ToValue(v.Get())
}

// AsParameter hands the worklet a live handle on this cell rather than a copy,
// so writes from the render goroutine land here.
func (v *MutableValue) AsParameter(rt *goja.Runtime) goja.Value {
	if rt == nil {
		return goja.Undefined()
	}
	return rt.ToValue(&ValueParam{value: v})
}

func (v *MutableValue) SetNewValue(sv SharedValue) {
	other, ok := sv.(*MutableValue)
	if !ok || other == nil {
		Logger().Warn("ignoring new value of a different kind", zap.Int("id", v.id))
		return
	}
	if other == v {
		return
	}

	v.Set(other.Get())
}

func (v *MutableValue) WillUnregister() {
	Logger().Debug("unregistering shared value", zap.Int("id", v.id))
}

// ValueParam is the worklet-facing handle of a MutableValue.
// Scripts see it as an object with get(), set(v) and id().
type ValueParam struct {
	value *MutableValue
}

func (p *ValueParam) Get() any      { return p.value.Get() }
func (p *ValueParam) Set(value any) { p.value.Set(value) }
func (p *ValueParam) ID() int       { return p.value.ID() }
