package internal

import (
	"fmt"

	"github.com/dop251/goja"
)

// Worklet is a unit of logic that can run on any script runtime.
type Worklet interface {
	Run(rt *goja.Runtime, args []goja.Value) (goja.Value, error)
}

// WorkletFunc adapts a Go function to the Worklet interface.
type WorkletFunc func(rt *goja.Runtime, args []goja.Value) (goja.Value, error)

func (f WorkletFunc) Run(rt *goja.Runtime, args []goja.Value) (goja.Value, error) {
	return f(rt, args)
}

// ScriptWorklet is a compiled JavaScript function expression.
// The program is runtime independent. The function it evaluates to is cached on each
// runtime's global object under a private symbol, so it goes away with the runtime.
type ScriptWorklet struct {
	name    string
	program *goja.Program
	key     *goja.Symbol
}

// CompileWorklet compiles source, which must evaluate to a function, e.g. "function (a, b) { ... }".
func CompileWorklet(name, source string) (*ScriptWorklet, error) {
	program, err := goja.Compile(name, "("+source+")", true)
	if err != nil {
		return nil, fmt.Errorf("compile worklet %q: %w", name, err)
	}

	return &ScriptWorklet{name: name, program: program, key: goja.NewSymbol("worklet " + name)}, nil
}

func (w *ScriptWorklet) Name() string {
	return w.name
}

func (w *ScriptWorklet) Run(rt *goja.Runtime, args []goja.Value) (goja.Value, error) {
	fn, err := w.function(rt)
	if err != nil {
		return nil, err
	}

	return fn(goja.Undefined(), args...)
}

func (w *ScriptWorklet) function(rt *goja.Runtime) (goja.Callable, error) {
	global := rt.GlobalObject()
	if cached := global.GetSymbol(w.key); cached != nil {
		if fn, ok := goja.AssertFunction(cached); ok {
			return fn, nil
		}
	}

	v, err := rt.RunProgram(w.program)
	if err != nil {
		return nil, fmt.Errorf("evaluate worklet %q: %w", w.name, err)
	}

	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("worklet %q does not evaluate to a function", w.name)
	}

	if err := global.DefineDataPropertySymbol(w.key, v, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return nil, fmt.Errorf("cache worklet %q: %w", w.name, err)
	}
	return fn, nil
}
