package internal

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"
)

var modules = require.NewRegistry()

func init() {
	modules.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(consolePrinter{}))
}

// NewScriptRuntime creates a runtime worklets can run on.
// Go handles passed as parameters are exposed with lowercase names (get, set, id, stop).
func NewScriptRuntime() *goja.Runtime {
	rt := goja.New()
	rt.SetFieldNameMapper(handleNameMapper{})

	modules.Enable(rt)
	console.Enable(rt)

	return rt
}

// handleNameMapper exposes Go fields and methods with a lowercase leading word:
// ID becomes id, Get becomes get, URLFor becomes urlFor.
type handleNameMapper struct{}

func (handleNameMapper) FieldName(_ reflect.Type, f reflect.StructField) string {
	return lowerLeadingWord(f.Name)
}

func (handleNameMapper) MethodName(_ reflect.Type, m reflect.Method) string {
	return lowerLeadingWord(m.Name)
}

func lowerLeadingWord(name string) string {
	runes := []rune(name)

	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	// keep the capital that starts the next word
	if n > 1 && n < len(runes) && unicode.IsLower(runes[n]) {
		n--
	}

	return strings.ToLower(string(runes[:n])) + string(runes[n:])
}

// consolePrinter sends console.* output from worklets to the package logger.
type consolePrinter struct{}

func (consolePrinter) Log(s string)   { Logger().Info(s, zap.String("source", "console")) }
func (consolePrinter) Warn(s string)  { Logger().Warn(s, zap.String("source", "console")) }
func (consolePrinter) Error(s string) { Logger().Error(s, zap.String("source", "console")) }
