// Package client holds the state of one ffidl embedding: typedefs,
// signatures, callouts, callbacks and libraries.
//
// A client is created per interpreter and destroyed with it:
//
//	c, err := client.New(client.Config{Engine: eng, Host: host})
//	defer c.Destroy()
//
//	c.Typedef("point", "sint32", "sint32")
//	addr, _ := c.Symbol("libm.so.6", "hypot")
//	c.Callout("hypot", []string{"double", "double"}, "double", addr, "")
//	r, err := c.Call(ctx, "hypot", value.NewDouble(3), value.NewDouble(4))
//
// Callout and callback names go through Host.QualifyName, so a host with
// namespaces can scope them. Nothing here is safe for concurrent use;
// callbacks may still be entered reentrantly from native code.
package client
