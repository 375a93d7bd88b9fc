// Package coding provides the local resource drivers behind the command and
// file tools: a shell process runner and a file store confined to the
// working directory.
package coding
