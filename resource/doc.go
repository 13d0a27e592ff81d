// Package resource keeps the host values that native code holds as
// pointer-obj arguments.
//
// Native code cannot hold a Go pointer, so a pointer-obj argument is
// passed as a small integer handle:
//
//	table := resource.NewTable()
//	h, _ := table.Insert(v)   // h is what the native side receives
//	v2, ok := table.Get(h)    // v2 == v when native code hands h back
//
// Inserting the same value twice returns the same handle, which keeps
// pointer identity for native code that compares object pointers. The
// table holds one reference per value until Remove, Clear or Close.
//
// Callouts use Acquire and Release instead, so a handle lives only while
// some call that passed the value is still running:
//
//	h, _ := table.Acquire(v)
//	defer table.Release(h)
//
// Observers see every handle created and dropped, which the client uses
// for debug logging.
package resource
