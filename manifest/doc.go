// Package manifest saves user typedefs between sessions.
//
// A manifest records each typedef by name and element names, in the order
// they were defined, encoded with msgpack. Applying it to a fresh registry
// replays the definitions, so aggregate layout is recomputed for the
// current platform rather than trusted from the file.
package manifest
