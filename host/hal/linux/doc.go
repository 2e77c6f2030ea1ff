// Package linux provides a GMU HAL for Linux using a UIO device.
//
// The GMU kernel driver exports two memory maps through UIO: the GMU
// register block and the HFI shared memory. Both are mapped with mmap on the
// device node; map N lives at offset N pages. Map geometry is read from
// sysfs (/sys/class/uio/uioN/maps/mapN/{addr,size,offset}). The address of
// the memory map becomes the IOVA the firmware sees.
//
// The doorbell and interrupt clear are register stores; the interrupt
// status is a register load. No cgo is required.
//
// # Requirements
//
// The user must have read/write access to the UIO device node, either as
// root or through a udev rule.
//
// # Register Layout
//
// [DefaultConfig] uses the A6xx register offsets. Other layouts are
// selected through [Config.Registers].
package linux
