// Package introspect discovers the shared library dependencies and runtime
// search path of a binary by running the platform's inspection tools and
// parsing their text output.
//
// On Linux the tools are ldd(1), for the resolved dependency list, and
// readelf(1), for the RPATH/RUNPATH entries of the dynamic section. On macOS
// a single otool -l dump yields both the LC_LOAD_DYLIB references and the
// LC_RPATH entries.
//
// The output formats parsed here are defined by those tools, not by this
// package. They have been stable for a long time but a change in their
// layout shows up as missing dependencies rather than as an error.
package introspect
