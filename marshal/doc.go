// Package marshal converts values between the host and a guest VM.
//
// Primitives (null, numbers, booleans, strings) are copied. Shared
// containers cross as proxies: each time a container enters the guest a new
// Proxy is created and takes one reference on the container, released when
// the guest finalizes the proxy. Host composite values (maps, slices,
// structs) never cross; wrap them in an Array or Table first. Guest lists
// and maps are not converted for the host.
package marshal
