// Package callback exposes host commands to native code.
//
// A callback pairs a signature with a command prefix. The engine builds a
// trampoline for the signature; when native code calls the trampoline
// address, the dispatcher converts each native argument, appends it to the
// prefix and evaluates the resulting command:
//
//	d := &callback.Definer{Cache: cache, Engine: eng, Env: env, Eval: host, Sink: host}
//	cb, err := d.Define("cb1", []string{"int"}, "int", "", value.NewString("square"))
//	addr := cb.Address()
//
// Failures never cross back into native code. The return buffer is zeroed
// and the error goes to the ErrorSink instead.
package callback
