// ABOUTME: Root package providing version information and package documentation
// ABOUTME: This is the umbrella package for the runtime memory subsystem

// Package rubinius provides the memory manager of a managed-language runtime:
// a generational heap (copying nursery, mark-region mature space, mark-sweep
// large object space), a cooperative stop-the-world coordinator, and the
// object-header thin-lock/identity/handle protocol with inflation.
package rubinius

// Version is the semantic version of the memory subsystem
const Version = "0.1.0-dev"
