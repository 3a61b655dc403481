package internal

import "github.com/dop251/goja"

// SharedValue is a cell visible to both Go and worklets, identified by a registry id.
//
// AsValue and AsParameter never panic across the script boundary: failures go to
// an error handler and goja.Undefined() is returned.
type SharedValue interface {
	// AsValue returns the value as seen by the script engine.
	AsValue(rt *goja.Runtime) goja.Value

	// AsParameter returns the value as passed to a worklet. It may be a handle
	// rather than a copy, but it refers to the same state as AsValue.
	AsParameter(rt *goja.Runtime) goja.Value

	// SetNewValue replaces the effective state with the one of sv, in one step.
	SetNewValue(sv SharedValue)

	// WillUnregister is called once before the value is removed from its registry.
	WillUnregister()
}

// ValueLookup resolves shared value ids.
type ValueLookup interface {
	Lookup(id int) (SharedValue, bool)
}
