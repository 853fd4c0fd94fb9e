// Package shim makes a finished distribution independent of the paths it
// was built at.
//
// At finalize time the interpreter's build configuration variables are
// captured with the build root and toolchain directory replaced by the
// {BUILDROOT} and {TOOLCHAIN} placeholders and stored as YAML next to the
// standard library. When the distribution is used, Expand substitutes the
// locations it actually lives at. Script shebangs pointing at the build
// prefix are rewritten to a /bin/sh trampoline that finds the interpreter
// relative to the script.
package shim
