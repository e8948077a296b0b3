// Package guest defines the embedding contract between the bridge and a guest
// virtual machine.
//
// The contract follows the slot discipline of Wren style VMs: values are
// exchanged through numbered API slots, foreign classes and methods are bound
// by callbacks the first time the guest declares them, and long lived
// references are held through opaque handles.
//
// The bridge only depends on this package. guest/mini provides a small
// interpreter that satisfies it.
package guest
