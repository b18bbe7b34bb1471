package microfw

import (
	"reflect"
	"runtime"
	"strings"
)

// callableIdentity is the comparable value used for add/remove-by-value
// semantics on listeners. Two listeners with equal identities are the
// same listener; a listener without an identity can only be removed by
// token.
//
// Identity rules:
//   - a named top-level function (typically wrapped in one of the
//     *ListenerFunc adapters) is identified by its code pointer
//   - a listener implemented on a comparable value (a struct pointer
//     carrying the method set) is identified by that value
//   - method values, anonymous functions and closures have no identity:
//     Go method values share one wrapper code pointer per method, and a
//     closure's code pointer is shared by every closure created at the
//     same source location
type callableIdentity struct {
	fn    uintptr
	value any
}

// identityOf derives the identity of a listener, reporting false for
// identity-less callables.
func identityOf(listener any) (callableIdentity, bool) {
	rv := reflect.ValueOf(listener)
	if !rv.IsValid() {
		return callableIdentity{}, false
	}

	if rv.Kind() == reflect.Func {
		if rv.IsNil() {
			return callableIdentity{}, false
		}
		pc := rv.Pointer()
		fn := runtime.FuncForPC(pc)
		if fn == nil || !isNamedFunction(fn.Name()) {
			return callableIdentity{}, false
		}
		return callableIdentity{fn: pc}, true
	}

	if !rv.Type().Comparable() {
		return callableIdentity{}, false
	}
	return callableIdentity{value: listener}, true
}

// isNamedFunction reports whether a runtime function name belongs to a
// named top-level function, as opposed to a method value wrapper
// (suffix "-fm") or a compiler-generated closure ("pkg.Fn.func1.2").
func isNamedFunction(name string) bool {
	if name == "" || strings.HasSuffix(name, "-fm") {
		return false
	}
	for _, seg := range strings.Split(name, ".") {
		if rest, ok := strings.CutPrefix(seg, "func"); ok && rest != "" && isDigits(rest) {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
