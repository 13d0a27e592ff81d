// Package shell is a small Tcl-flavored command language that hosts an
// ffidl client. It is what the ffidl CLI runs scripts and the REPL with.
//
// Scripts are sequences of commands separated by newlines or semicolons.
// Words are grouped with {braces} (no substitution) or "quotes"; $var and
// [command] substitute anywhere else. A word that is a single substitution
// keeps its value unchanged, so byte values pass through variables intact.
//
//	ffidl::typedef point sint32 sint32
//	ffidl::callout add2 {int int} int [ffidl::symbol libadd.so add]
//	puts [add2 2 3]
//
// Besides the ffidl:: commands the shell has variables, procs, control
// flow, prefix arithmetic (+ - * / % and comparisons), lists, and
// pack/unpack/buffer for binary values. Conditions of if and while are
// scripts, e.g. `if {< $n 3} {...}`.
//
// The shell implements client.Host: pointer-var arguments name shell
// variables, callbacks evaluate shell commands, and callback failures
// go to a bgerror proc or to Stderr.
package shell
