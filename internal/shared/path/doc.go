// Package path provides the root-qualified path model used by every filesystem.
//
// A path spec has the form "root:/a/b/c". The root names a mounted filesystem
// and the elements address a node inside it. Parsing never fails: malformed
// specs produce an invalid Path, and callers check IsValid.
//
// Normalization rules:
//   - "." segments are dropped
//   - ".." pops the previous element, and popping past the root is a no-op
//   - empty segments ("a//b") are ignored
//   - every remaining element must match [\w\-.,+~ ]+
//
// Example Usage:
//
//	p := path.Parse("home:/docs/./notes/../todo.txt")
//	p.Spec()                      // "home:/docs/todo.txt"
//	path.Abs(p, "/tmp").Spec()    // "home:/tmp"
//	path.Abs(p, "draft").Spec()   // "home:/docs/todo.txt/draft"
package path
