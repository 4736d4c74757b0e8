// Command libadfilter is the C ABI boundary: six exported symbols, built
// with -buildmode=c-shared or -buildmode=c-archive, giving mobile embedders
// (Android via JNI/cgo, iOS via a thin Objective-C shim) a stable
// handle-based interface onto one engine.Engine.
//
// Grounded on runtime/cgo's own cgo.Handle idiom for opaque-handle FFI,
// the standard mechanism for this kind of boundary (see DESIGN.md).
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"encoding/json"
	"log/slog"
	"runtime/cgo"
	"unsafe"

	"github.com/meridianmobile/adfilter/engine"
	"github.com/meridianmobile/adfilter/internal/logging"
)

// adblock_engine_create constructs an Engine and returns an opaque handle.
// The caller must eventually pass the returned value to
// adblock_engine_destroy.
//
//export adblock_engine_create
func adblock_engine_create() C.uintptr_t {
	e := engine.New(engine.Config{Logger: logging.New(defaultLogLevel(), false)})
	h := cgo.NewHandle(e)
	return C.uintptr_t(h)
}

// adblock_engine_destroy releases the Engine behind handle. Calling this
// more than once for the same handle, or calling any other function with a
// stale handle afterward, is undefined behavior (matching cgo.Handle's own
// contract).
//
//export adblock_engine_destroy
func adblock_engine_destroy(handle C.uintptr_t) {
	h := cgo.Handle(handle)
	if e, ok := h.Value().(*engine.Engine); ok {
		_ = e.Close()
	}
	h.Delete()
}

// adblock_engine_should_block evaluates url against handle's active
// RuleSet. Returns 1 if the URL should be blocked, 0 otherwise (including
// when handle is invalid, since the ABI has no room for an error channel
// on this hot path).
//
//export adblock_engine_should_block
func adblock_engine_should_block(handle C.uintptr_t, url *C.char) C.int {
	e, ok := engineFromHandle(handle)
	if !ok {
		return 0
	}
	d := e.ShouldBlock(C.GoString(url))
	if d.ShouldBlock {
		return 1
	}
	return 0
}

// adblock_engine_load_filter_list compiles listText into a new RuleSet and
// swaps it in. Returns 1 (true) if at least one rule parsed, 0 (false)
// otherwise — including when handle is invalid or every line failed to
// parse.
//
//export adblock_engine_load_filter_list
func adblock_engine_load_filter_list(handle C.uintptr_t, listText *C.char) C.int {
	e, ok := engineFromHandle(handle)
	if !ok {
		return 0
	}
	e.LoadFilterList(C.GoString(listText))
	if e.GetPerformanceMetrics().FilterCount > 0 {
		return 1
	}
	return 0
}

// adblock_engine_get_stats returns a newly allocated, NUL-terminated JSON
// string with the Statistics payload. The caller must release it via
// adblock_free_string. Returns NULL if handle is invalid.
//
//export adblock_engine_get_stats
func adblock_engine_get_stats(handle C.uintptr_t) *C.char {
	e, ok := engineFromHandle(handle)
	if !ok {
		return nil
	}
	return marshalToCString(e.GetStatistics())
}

// adblock_free_string releases a string previously returned by
// adblock_engine_get_stats.
//
//export adblock_free_string
func adblock_free_string(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

func engineFromHandle(handle C.uintptr_t) (e *engine.Engine, ok bool) {
	if handle == 0 {
		return nil, false
	}
	// cgo.Handle.Value panics on a handle it never issued or already deleted.
	defer func() {
		if recover() != nil {
			e, ok = nil, false
		}
	}()
	e, ok = cgo.Handle(handle).Value().(*engine.Engine)
	return e, ok
}

// marshalToCString JSON-encodes v into a C.CString (malloc-backed, per cgo's
// own contract), matching the C.free in adblock_free_string.
func marshalToCString(v any) *C.char {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return C.CString(string(b))
}

func defaultLogLevel() slog.Level { return slog.LevelInfo }

func main() {} // required by -buildmode=c-shared/c-archive, never invoked
