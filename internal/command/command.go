// Package command maps persistable string tags to registered actions.
//
// A tag has the form "<member>.<scope>", where scope is the fully qualified
// import path of the package that declares the function and member is the
// function name. Only top-level functions can be registered or encoded:
// closures, method values, method expressions and generic instantiations have
// no stable symbol and are rejected when encoded, never when resolved.
package command

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
)

var (
	// ErrInvalidEncode reports an attempt to encode a callable that has no
	// stable tag. It is a programmer error at the call site.
	ErrInvalidEncode = errors.New("command: callable cannot be encoded")
	// ErrResolution reports a persisted tag that no longer maps to an action.
	ErrResolution = errors.New("command: reference cannot be resolved")
)

// Action is a deferred action. The argument is the simulation environment
// supplied by whoever invokes it; callers never pass their own parameters.
type Action[T any] func(T)

// Ref identifies a registered action.
type Ref struct {
	Scope  string
	Member string
}

// String returns the persisted form "<member>.<scope>".
func (r Ref) String() string {
	return r.Member + "." + r.Scope
}

// IsZero reports whether the reference is empty.
func (r Ref) IsZero() bool {
	return r.Scope == "" && r.Member == ""
}

// ParseRef splits a persisted tag at its first dot.
func ParseRef(s string) (Ref, error) {
	member, scope, ok := strings.Cut(s, ".")
	if !ok || member == "" || scope == "" {
		return Ref{}, fmt.Errorf("%w: malformed tag %q", ErrResolution, s)
	}
	return Ref{Scope: scope, Member: member}, nil
}

// Registry holds the actions known to this process. It is populated at
// startup and read afterwards.
type Registry[T any] struct {
	actions map[string]Action[T]
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{actions: make(map[string]Action[T])}
}

// Register adds fn under the tag derived from its symbol.
func (r *Registry[T]) Register(fn Action[T]) (Ref, error) {
	ref, err := refOf(fn)
	if err != nil {
		return Ref{}, err
	}
	tag := ref.String()
	if _, ok := r.actions[tag]; ok {
		return Ref{}, fmt.Errorf("command: %s already registered", tag)
	}
	r.actions[tag] = fn
	return ref, nil
}

// MustRegister is Register for package-level setup code.
func (r *Registry[T]) MustRegister(fns ...Action[T]) {
	for _, fn := range fns {
		if _, err := r.Register(fn); err != nil {
			panic(err)
		}
	}
}

// Encode returns the reference for a registered top-level function.
func (r *Registry[T]) Encode(fn Action[T]) (Ref, error) {
	ref, err := refOf(fn)
	if err != nil {
		return Ref{}, err
	}
	if _, ok := r.actions[ref.String()]; !ok {
		return Ref{}, fmt.Errorf("%w: %s is not registered", ErrInvalidEncode, ref)
	}
	return ref, nil
}

// Resolve returns the action registered under ref.
func (r *Registry[T]) Resolve(ref Ref) (Action[T], error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: empty reference", ErrResolution)
	}
	fn, ok := r.actions[ref.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResolution, ref)
	}
	return fn, nil
}

// Has reports whether ref is registered.
func (r *Registry[T]) Has(ref Ref) bool {
	_, ok := r.actions[ref.String()]
	return ok
}

// Tags lists registered tags in lexical order.
func (r *Registry[T]) Tags() []string {
	tags := make([]string, 0, len(r.actions))
	for tag := range r.actions {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func refOf[T any](fn Action[T]) (Ref, error) {
	if fn == nil {
		return Ref{}, fmt.Errorf("%w: nil function", ErrInvalidEncode)
	}
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return Ref{}, fmt.Errorf("%w: unknown symbol", ErrInvalidEncode)
	}
	return splitSymbol(f.Name())
}

// splitSymbol turns "example.com/pkg/path.name" into a Ref. Anything after the
// package path that is not a plain identifier is refused.
func splitSymbol(symbol string) (Ref, error) {
	slash := strings.LastIndex(symbol, "/")
	dot := strings.Index(symbol[slash+1:], ".")
	if dot < 0 {
		return Ref{}, fmt.Errorf("%w: %s", ErrInvalidEncode, symbol)
	}
	dot += slash + 1
	scope, member := symbol[:dot], symbol[dot+1:]
	switch {
	case strings.HasSuffix(member, "-fm"):
		return Ref{}, fmt.Errorf("%w: %s is bound to an instance", ErrInvalidEncode, symbol)
	case strings.ContainsAny(member, ".[]()*"):
		return Ref{}, fmt.Errorf("%w: %s is not a top-level function", ErrInvalidEncode, symbol)
	case member == "":
		return Ref{}, fmt.Errorf("%w: %s", ErrInvalidEncode, symbol)
	}
	return Ref{Scope: scope, Member: member}, nil
}
