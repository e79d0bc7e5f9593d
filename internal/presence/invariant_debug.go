//go:build debug

package presence

// panicOnInvariant is true in builds tagged debug so defects fail loudly.
const panicOnInvariant = true
