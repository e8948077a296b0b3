// Package carrica embeds class based guest VMs in Go programs.
//
// A host creates guest VM instances, installs modules into them, runs guest
// code, and calls guest methods back. Guest code reaches the host through
// natively implemented foreign classes, and both sides share dynamic arrays
// and ordered tables whose storage lives in Go memory.
//
// # Architecture Overview
//
//	carrica/             Version information
//	├── runtime/         Runtime, VM instances, method handles, host wrappers
//	├── module/          Module descriptors, registries and the resolution chain
//	├── marshal/         Host <-> guest value conversion and container proxies
//	├── container/       Refcounted Array and Table storage in a generation checked arena
//	├── guest/           The slot based guest VM contract
//	│   └── mini/        A tree walking guest interpreter
//	├── internal/builtin The "carrica" guest module: Array, Table, TableEntry, Host
//	├── loader/          Module source loaders (filesystem, fs.FS, sqlite)
//	├── wasmmod/         Core wasm modules exposed as guest classes
//	├── config/          TOML/YAML configuration
//	├── errors/          Structured error types
//	└── cmd/carrica      Script runner and interactive shell
//
// # Quick Start
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	vm, err := rt.NewVM("demo")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = vm.Interpret(`
//	    class Greeter {
//	      static greet(name) { "Hello, %(name)!" }
//	    }
//	`)
//
//	m, _ := vm.GetMethod("main", "Greeter", "greet(_)")
//	result, _ := m.Call("World")
//	fmt.Println(result) // Hello, World!
//
// # Shared Containers
//
// Array and Table values are stored once and referenced from both sides.
// Every guest proxy and every host wrapper owns one reference; storage is
// destroyed when the last reference is dropped:
//
//	arr, _ := vm.NewArray()
//	defer arr.Release()
//	arr.Add(1)
//	m.Call(arr) // the guest sees the same storage
//
// # Error Handling
//
// All errors are *errors.Error values with a category. errors.IsFatal
// reports configuration and marshaling mistakes; guest runtime and compile
// errors are recoverable and have already been sent to the error handler.
package carrica
