package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseDefine   Phase = "define"   // typedef, signature, callout and callback definition
	PhaseMarshal  Phase = "marshal"  // host value to native slot and back
	PhaseCall     Phase = "call"     // callout invocation
	PhaseDispatch Phase = "dispatch" // callback entered from native code
	PhaseLoad     Phase = "load"     // library open, symbol lookup, close
	PhaseEngine   Phase = "engine"   // native call engine refusal
	PhaseInfo     Phase = "info"     // introspection queries
	PhaseClient   Phase = "client"   // client lifecycle
)

// Kind categorizes the error
type Kind string

const (
	KindAlreadyDefined  Kind = "already_defined"
	KindUndefinedType   Kind = "undefined_type"
	KindContext         Kind = "context"
	KindTypeDefinition  Kind = "type_definition"
	KindConversion      Kind = "conversion"
	KindArity           Kind = "arity"
	KindSizeMismatch    Kind = "size_mismatch"
	KindNotBinary       Kind = "not_binary"
	KindUnknownCallback Kind = "unknown_callback"
	KindNullAddress     Kind = "null_address"
	KindUnsupported     Kind = "unsupported"
	KindAlreadyLoaded   Kind = "already_loaded"
	KindLoadFailed      Kind = "load_failed"
	KindSymbolNotFound  Kind = "symbol_not_found"
	KindUnknownProtocol Kind = "unknown_protocol"
	KindUnknownOption   Kind = "unknown_option"
	KindCloseFailed     Kind = "close_failed"
	KindCallbackFailed  Kind = "callback_failed"
	KindNotInitialized  Kind = "not_initialized"
	KindInvalidInput    Kind = "invalid_input"
	KindInternal        Kind = "internal"
)

// Sentinels for errors.Is checks. Only Phase and Kind take part in matching.
var (
	ErrAlreadyDefined  = &Error{Phase: PhaseDefine, Kind: KindAlreadyDefined}
	ErrUndefinedType   = &Error{Phase: PhaseDefine, Kind: KindUndefinedType}
	ErrContext         = &Error{Phase: PhaseDefine, Kind: KindContext}
	ErrTypeDefinition  = &Error{Phase: PhaseEngine, Kind: KindTypeDefinition}
	ErrConversion      = &Error{Phase: PhaseMarshal, Kind: KindConversion}
	ErrArity           = &Error{Phase: PhaseCall, Kind: KindArity}
	ErrSizeMismatch    = &Error{Phase: PhaseMarshal, Kind: KindSizeMismatch}
	ErrNotBinary       = &Error{Phase: PhaseMarshal, Kind: KindNotBinary}
	ErrUnknownCallback = &Error{Phase: PhaseMarshal, Kind: KindUnknownCallback}
	ErrAlreadyLoaded   = &Error{Phase: PhaseLoad, Kind: KindAlreadyLoaded}
	ErrLoadFailed      = &Error{Phase: PhaseLoad, Kind: KindLoadFailed}
	ErrSymbolNotFound  = &Error{Phase: PhaseLoad, Kind: KindSymbolNotFound}
	ErrUnknownProtocol = &Error{Phase: PhaseDefine, Kind: KindUnknownProtocol}
	ErrNotInitialized  = &Error{Phase: PhaseClient, Kind: KindNotInitialized}
	ErrCallbackFailed  = &Error{Phase: PhaseDispatch, Kind: KindCallbackFailed}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	TypeName string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	} else if e.TypeName != "" {
		b.WriteString(": type ")
		b.WriteString(e.TypeName)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Message returns the detail text alone, the form shown to script users.
func (e *Error) Message() string {
	msg := e.Detail
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the location path, e.g. the callout name and argument index
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// TypeName sets the ffi type name involved
func (b *Builder) TypeName(t string) *Builder {
	b.err.TypeName = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Definition errors

// AlreadyDefined reports a typedef name collision.
func AlreadyDefined(name string) *Error {
	return &Error{
		Phase:    PhaseDefine,
		Kind:     KindAlreadyDefined,
		TypeName: name,
		Detail:   "type is already defined: " + name,
	}
}

// UndefinedType reports a type name with no registry entry.
func UndefinedType(name string) *Error {
	return &Error{
		Phase:    PhaseDefine,
		Kind:     KindUndefinedType,
		TypeName: name,
		Detail:   "undefined type: " + name,
	}
}

// UndefinedElement reports an unknown element type inside an aggregate typedef.
func UndefinedElement(name string) *Error {
	return &Error{
		Phase:    PhaseDefine,
		Kind:     KindUndefinedType,
		TypeName: name,
		Detail:   "undefined element type: " + name,
	}
}

// NoType reports a signature referencing an unknown type.
func NoType(name string) *Error {
	return &Error{
		Phase:    PhaseDefine,
		Kind:     KindUndefinedType,
		TypeName: name,
		Detail:   "no type defined for: " + name,
	}
}

// NotPermitted reports a type used outside its usage class.
func NotPermitted(name, context string) *Error {
	return &Error{
		Phase:    PhaseDefine,
		Kind:     KindContext,
		TypeName: name,
		Detail:   fmt.Sprintf("type %s is not permitted in %s context", name, context),
	}
}

// TypeDefinition wraps an engine refusal to prepare a signature or layout.
func TypeDefinition(cause error) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindTypeDefinition,
		Detail: "type definition error",
		Cause:  cause,
	}
}

// UnknownProtocol reports an unrecognized calling convention name.
func UnknownProtocol(name string) *Error {
	return &Error{
		Phase:  PhaseDefine,
		Kind:   KindUnknownProtocol,
		Detail: "unknown protocol: " + name,
		Value:  name,
	}
}

// Call-time errors

// Arity reports a wrong argument count with the callout usage string.
func Arity(name, usage string) *Error {
	msg := name
	if usage != "" {
		msg += " " + usage
	}
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindArity,
		Detail: fmt.Sprintf("wrong # args: should be %q", msg),
	}
}

// Conversion reports a value that cannot take the required native form.
func Conversion(index int, typeName string, cause error) *Error {
	return &Error{
		Phase:    PhaseMarshal,
		Kind:     KindConversion,
		Path:     []string{fmt.Sprintf("parameter %d", index)},
		TypeName: typeName,
		Detail:   fmt.Sprintf("parameter %d cannot be converted to %s", index, typeName),
		Cause:    cause,
	}
}

// NotBinary reports a parameter that must carry a byte-sequence value.
func NotBinary(index int) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindNotBinary,
		Detail: fmt.Sprintf("parameter %d must be a binary string", index),
		Value:  index,
	}
}

// WrongSize reports a struct argument whose byte length differs from the type.
func WrongSize(index, got, want int) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindSizeMismatch,
		Detail: fmt.Sprintf("parameter %d is the wrong size, %d bytes instead of %d.", index, got, want),
		Value:  got,
	}
}

// UnknownCallback reports a pointer-proc argument naming no callback.
func UnknownCallback(name string) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindUnknownCallback,
		Detail: fmt.Sprintf("no callback named %q is defined", name),
		Value:  name,
	}
}

// Internal reports a marshaling path that should be unreachable.
func Internal(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindInternal,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// CallbackFailed wraps a failure inside a callback entered from native code.
func CallbackFailed(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindCallbackFailed,
		Path:   []string{name},
		Detail: fmt.Sprintf("callback %s failed", name),
		Cause:  cause,
	}
}

// Resource errors

// AlreadyLoaded reports a second load of the same library name.
func AlreadyLoaded(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindAlreadyLoaded,
		Detail: fmt.Sprintf("library %q already loaded", name),
		Value:  name,
	}
}

// LoadFailed reports a library that could not be opened.
func LoadFailed(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLoadFailed,
		Detail: fmt.Sprintf("couldn't load file %q", name),
		Value:  name,
		Cause:  cause,
	}
}

// SymbolNotFound reports a failed symbol lookup.
func SymbolNotFound(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSymbolNotFound,
		Detail: fmt.Sprintf("couldn't find symbol %q", name),
		Value:  name,
		Cause:  cause,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// NotInitialized creates a not-initialized error for a destroyed client
func NotInitialized(what string) *Error {
	return &Error{
		Phase:  PhaseClient,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", what),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
