//go:build !debug

package presence

// panicOnInvariant is false in release builds: violations are logged and
// reported as errors.
const panicOnInvariant = false
