package linux

// =============================================================================
// System Paths
// =============================================================================

// SysfsUIOPath is the base path for UIO devices in sysfs.
const SysfsUIOPath = "/sys/class/uio"

// DevPath is the directory holding UIO device nodes.
const DevPath = "/dev"

// =============================================================================
// UIO Maps
// =============================================================================

// Map indices exported by the GMU UIO driver. The mmap offset of map N is N
// pages.
const (
	DefaultRegisterMap = 0 // GMU register block
	DefaultMemoryMap   = 1 // HFI shared memory
)

// MaxMaps is the number of maps a UIO device can expose.
const MaxMaps = 5

// =============================================================================
// GMU Registers
// =============================================================================

// Register dword offsets within the register map, as laid out on A6xx.
const (
	RegHostToGMUIRQSet  = 0x23f9b // Write 1 to ring the doorbell
	RegGMUToHostIRQClr  = 0x23f95 // Write a mask to clear interrupt bits
	RegGMUToHostIRQInfo = 0x23f96 // Pending interrupt bits
)

// doorbellValue is written to the host-to-GMU interrupt register.
const doorbellValue = 0x1
