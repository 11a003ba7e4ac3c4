// Package vfs defines the FileSystem, OpenContext and ExecuteContext
// contracts every backend implements, the lifecycle bases backends embed, and
// the Manager that owns mounted filesystems.
//
// Every filesystem, open handle and running command is an Ephemeral. Open
// and execute contexts depend on their filesystem, so unmounting a
// filesystem closes its contexts with a parent-closed error.
package vfs
