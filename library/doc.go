// Package library tracks the native libraries a client has loaded.
//
// A library is loaded once per name. Symbol lookups load the library on
// first use, so
//
//	addr, err := libs.Symbol("libm.so.6", "sin")
//
// works without a prior Load. Libraries are never closed individually; the
// client closes them all at teardown.
package library
