//go:build !wasm

package internal

import (
	"sync"

	"github.com/dop251/goja"
	"github.com/petermattis/goid"
)

// goja runtimes are not safe for concurrent use, so each goroutine gets its own.
var runtimes sync.Map

// ScriptRuntime returns the calling goroutine's script runtime, creating it on first use.
func ScriptRuntime() *goja.Runtime {
	gid := getGID()

	if rt, ok := runtimes.Load(gid); ok {
		return rt.(*goja.Runtime)
	}

	rt := NewScriptRuntime()
	runtimes.Store(gid, rt)
	return rt
}

// ReleaseScriptRuntime forgets the calling goroutine's script runtime.
func ReleaseScriptRuntime() {
	runtimes.Delete(getGID())
}

func getGID() int64 {
	return goid.Get()
}
