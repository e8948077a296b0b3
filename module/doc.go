// Package module implements module tables and foreign binding resolution.
//
// A module is either guest source text or a native Binding. Registries
// hold modules by unique name: the runtime keeps one shared registry seen
// by every VM instance, and each instance keeps a local one. A Chain puts
// the internal module, the shared registry and the local registry in
// resolution order and answers the guest's bind callbacks.
package module
