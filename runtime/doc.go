// Package runtime embeds guest VMs in a Go host.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	vm, err := rt.NewVM("main")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer vm.Release()
//
//	err = vm.Interpret(`System.print("hello")`)
//
// # Modules
//
// Imports resolve through a chain: the built-in carrica module, then the
// shared modules installed on the Runtime, then the modules installed on
// the instance. The first module whose name matches wins. Shared installs
// are visible to every live instance at once.
//
//	rt.InstallModule("greet", `class Greet { static hi(n) { "hi %(n)" } }`)
//
// Modules the chain does not know are read through the instance loader,
// set with SetLoadFunction or one of the presets:
//
//	os.filesystem   <LoaderRoot>/<name><LoaderExt> on disk
//	io.fs           the fs.FS passed with WithModuleFS
//	sql             the sqlite module store
//
// # Calling the Guest
//
//	m, err := vm.GetMethod("greet", "Greet", "hi(_)")
//	res, err := m.Call("bob") // "hi bob"
//
// # Host Functions
//
// Guest code reaches Go through the Host class:
//
//	vm.RegisterFunc("add", func(a, b int) int { return a + b })
//	vm.SetConst("limit", 10)
//
//	// guest side
//	import "carrica" for Host
//	System.print(Host.call(Host.ref("add"), 1, 2))
//
// # Shared Containers
//
// Array and Table live in storage shared by every instance of a Runtime.
// Passing one across the boundary shares it; nothing is copied. Storage is
// reference counted and destroyed when the last holder lets go, whether
// that is a guest proxy being collected or a host wrapper being released.
// Cycles are never collected.
//
// # Errors
//
// Errors are *errors.Error values. Configuration and marshal errors are
// fatal (errors.IsFatal); guest errors only abort the running fiber and are
// also reported to the error handler.
//
// # Thread Safety
//
// Runtime is safe for concurrent use. An Instance is not: calls that
// overlap, including calls made from host functions while the guest runs,
// fail with a reentrant error. Different instances may run on different
// goroutines.
package runtime
