//go:build wasm

package internal

import (
	"sync"

	"github.com/dop251/goja"
)

var once sync.Once
var globalRuntime *goja.Runtime

func ScriptRuntime() *goja.Runtime {
	once.Do(func() {
		globalRuntime = NewScriptRuntime()
	})

	return globalRuntime
}

func ReleaseScriptRuntime() {}

func getGID() int64 {
	return 0
}
