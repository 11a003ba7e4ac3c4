// Package archive moves trees in and out of filesystems as tar streams,
// optionally gzip or zstd compressed, and imports host directories.
package archive
