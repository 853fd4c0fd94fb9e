// Package scheduler runs the selected units of a recipe registry. Every unit
// gets its own goroutine which waits on a Signal until all of its selected
// prerequisites have succeeded. When a unit fails, every unit still waiting
// on it, directly or transitively, is cancelled and never builds.
package scheduler
