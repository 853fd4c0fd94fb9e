// Package recipe holds the static set of build units for one platform.
//
// A unit names a build function, the units it waits on and, usually, the
// source archive it is built from. Units are declared in HCL manifests (the
// defaults for Linux and macOS are embedded in the binary) while build
// functions are Go code registered by the packages under modules/. The two
// halves meet in the Registry, whose Validate method checks that every
// declared build function exists, that every prerequisite is a known unit
// and that the graph has no cycles.
//
// Manifest format:
//
//	python_version = "3.10.10"
//
//	recipe "OpenSSL" {
//	  build = "openssl"
//	  download {
//	    url      = "https://www.openssl.org/source/openssl-${version}.tar.gz"
//	    version  = "1.1.1t"
//	    checksum = "1cfee919e0eac6be62c88c5ae8bcd91e"
//	  }
//	}
//
// Inside a download block, ${version} refers to the block's own version and
// ${python_version} to the manifest's runtime version. The build attribute
// defaults to "default", the plain configure/make/make install sequence.
package recipe
