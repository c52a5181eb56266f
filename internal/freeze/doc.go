// Package freeze provides the primitive that freezes a process into an image
// and resumes it.
//
// The CRIU freezer drives CRIU over its RPC interface (go-criu swrk mode).
// Freeze dumps the target process into the image directory; with
// leave-running disabled the target is killed by CRIU once the dump
// completes and Freeze only returns in the restored process. Restore is used
// by the launcher to bring an image back as a child process.
//
// Failures are reported as *Error with a Layer so callers can tell a runtime
// failure (CRIU refused to dump the process state) from a system failure
// (CRIU missing, kernel support, file descriptors).
//
// @design DS-0105
package freeze
