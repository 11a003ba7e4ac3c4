// Package script runs JavaScript executables stored in a filesystem.
//
// Each execution gets a fresh goja runtime with the host globals removed and
// a small set of bindings instead:
//
//	arg            the validated arguments
//	env            the execution environment
//	stdout.write   write a string to stdout
//	stderr.write   write a string to stderr
//	stdin.read     block for the next stdin item, null at end of input
//	console.log    stdout.write with a trailing newline
//
// The completion value of the script is the execution result.
package script
