// Package mini is a small tree walking interpreter for a Wren style class
// language. It implements guest.VM and is the guest used by the carrica
// tests and command line tool.
//
// Supported: classes with fields, static fields, constructors, getters,
// setters, subscripts and operator methods; foreign classes and methods
// bound through guest.Config; import ... for; var, if, while, for ... in,
// break, continue and return; numbers, strings with %(...) interpolation,
// lists, maps and ranges; System.print and Fiber.abort.
//
// Not supported: closures (Fn), fibers other than Fiber.abort, super calls.
//
// Foreign objects are finalized by CollectGarbage, which runs a mark and
// sweep pass from module variables, handles and API slots when no guest
// code is running, and by Free.
package mini
