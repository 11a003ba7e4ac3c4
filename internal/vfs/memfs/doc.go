// Package memfs is an in-memory FileSystem backend.
//
// Nodes are directories, files or executables. An alias is a second name for
// an existing node, so writes through either name are visible through both.
// Files whose mode carries the executable bit hold JavaScript source and run
// through the script package.
package memfs
