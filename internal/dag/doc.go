// Package dag holds the static dependency graph of build units. The recipe
// registry uses it to reject unknown edges and cycles before a run starts, and
// to compute a stable topological order for display and reporting. Execution
// itself lives in the scheduler package.
package dag
