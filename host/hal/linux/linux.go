//go:build linux

package linux

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softgmu/host/hal"
	"github.com/ardnew/softgmu/pkg"
	"github.com/ardnew/softgmu/shmem"
)

// =============================================================================
// Configuration
// =============================================================================

// Registers holds the dword offsets of the registers the HAL touches.
type Registers struct {
	Doorbell  int // Host-to-GMU interrupt set
	IRQClear  int // GMU-to-host interrupt clear
	IRQStatus int // GMU-to-host interrupt info
}

// Config selects the UIO device and its layout.
type Config struct {
	// Device is the UIO device node, e.g. /dev/uio0.
	Device string

	// SysfsRoot is where UIO map attributes are read from.
	SysfsRoot string

	// RegisterMap and MemoryMap are the UIO map indices of the register
	// block and the HFI memory.
	RegisterMap int
	MemoryMap   int

	Registers Registers
}

// DefaultConfig returns the configuration for /dev/uio0 with the A6xx
// register layout.
func DefaultConfig() Config {
	return Config{
		Device:      filepath.Join(DevPath, "uio0"),
		SysfsRoot:   SysfsUIOPath,
		RegisterMap: DefaultRegisterMap,
		MemoryMap:   DefaultMemoryMap,
		Registers: Registers{
			Doorbell:  RegHostToGMUIRQSet,
			IRQClear:  RegGMUToHostIRQClr,
			IRQStatus: RegGMUToHostIRQInfo,
		},
	}
}

// =============================================================================
// GMUHAL Implementation
// =============================================================================

// HAL implements hal.GMUHAL on top of a Linux UIO device exporting the GMU
// registers and the HFI memory.
type HAL struct {
	cfg Config

	dev     *os.File
	regBuf  []byte
	memBuf  []byte
	regs    *shmem.Region
	mem     *shmem.Region
	pageLen int

	// State
	open bool
	mu   sync.Mutex
}

// NewHAL creates a UIO HAL. Nothing is opened until Init.
func NewHAL(cfg Config) *HAL {
	return &HAL{cfg: cfg, pageLen: os.Getpagesize()}
}

// =============================================================================
// Lifecycle Methods
// =============================================================================

// Init opens the UIO device and maps the register block and the HFI memory.
func (h *HAL) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.open {
		return pkg.ErrAlreadyOpen
	}

	maps, err := readUIOMaps(h.cfg.SysfsRoot, filepath.Base(h.cfg.Device))
	if err != nil {
		return fmt.Errorf("read uio maps: %w", err)
	}
	regMap, ok := findMap(maps, h.cfg.RegisterMap)
	if !ok {
		return fmt.Errorf("%w: register map %d not found", pkg.ErrNotSupported, h.cfg.RegisterMap)
	}
	memMap, ok := findMap(maps, h.cfg.MemoryMap)
	if !ok {
		return fmt.Errorf("%w: memory map %d not found", pkg.ErrNotSupported, h.cfg.MemoryMap)
	}

	dev, err := os.OpenFile(h.cfg.Device, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", h.cfg.Device, err)
	}

	regBuf, regs, err := h.mapRegion(dev, regMap, 0)
	if err != nil {
		dev.Close()
		return fmt.Errorf("map registers: %w", err)
	}
	for _, off := range []int{h.cfg.Registers.Doorbell, h.cfg.Registers.IRQClear, h.cfg.Registers.IRQStatus} {
		if off < 0 || off >= regs.Len() {
			_ = shmem.Unmap(regBuf)
			dev.Close()
			return fmt.Errorf("%w: register 0x%x outside %d-word map", pkg.ErrInvalidParameter, off, regs.Len())
		}
	}

	memBuf, mem, err := h.mapRegion(dev, memMap, memMap.addr)
	if err != nil {
		_ = shmem.Unmap(regBuf)
		dev.Close()
		return fmt.Errorf("map hfi memory: %w", err)
	}

	h.dev = dev
	h.regBuf, h.regs = regBuf, regs
	h.memBuf, h.mem = memBuf, mem
	h.open = true

	pkg.LogDebug(pkg.ComponentHAL, "uio device opened",
		"device", h.cfg.Device,
		"registers", regs.Len(),
		"memory", mem.Len(),
		"iova", fmt.Sprintf("0x%x", memMap.addr))
	return nil
}

// mapRegion maps one UIO map and wraps the device memory inside it.
func (h *HAL) mapRegion(dev *os.File, m uioMap, iova uint64) ([]byte, *shmem.Region, error) {
	length := int(m.offset) + m.size
	b, err := shmem.MapFile(int(dev.Fd()), int64(m.index*h.pageLen), length)
	if err != nil {
		return nil, nil, err
	}
	r, err := shmem.FromBytes(b[m.offset:length], iova)
	if err != nil {
		_ = shmem.Unmap(b)
		return nil, nil, err
	}
	return b, r, nil
}

// Close unmaps both regions and closes the device.
func (h *HAL) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.open {
		return nil
	}
	h.open = false

	var errs []error
	if err := shmem.Unmap(h.memBuf); err != nil {
		errs = append(errs, err)
	}
	if err := shmem.Unmap(h.regBuf); err != nil {
		errs = append(errs, err)
	}
	if err := h.dev.Close(); err != nil {
		errs = append(errs, err)
	}
	h.regs, h.mem, h.regBuf, h.memBuf, h.dev = nil, nil, nil, nil, nil

	pkg.LogDebug(pkg.ComponentHAL, "uio device closed", "device", h.cfg.Device)
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// =============================================================================
// Register Access
// =============================================================================

// Memory returns the HFI memory, or nil before Init.
func (h *HAL) Memory() *shmem.Region {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mem
}

// RingDoorbell raises the host-to-GMU interrupt.
func (h *HAL) RingDoorbell() error {
	regs, err := h.registers()
	if err != nil {
		return err
	}
	regs.Store(h.cfg.Registers.Doorbell, doorbellValue)
	return nil
}

// IRQStatus reads the pending GMU-to-host interrupt bits.
func (h *HAL) IRQStatus() hal.IRQ {
	regs, err := h.registers()
	if err != nil {
		return 0
	}
	return hal.IRQ(regs.Load(h.cfg.Registers.IRQStatus))
}

// ClearIRQ clears the given GMU-to-host interrupt bits.
func (h *HAL) ClearIRQ(mask hal.IRQ) error {
	regs, err := h.registers()
	if err != nil {
		return err
	}
	regs.Store(h.cfg.Registers.IRQClear, uint32(mask))
	return nil
}

func (h *HAL) registers() (*shmem.Region, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return nil, pkg.ErrNotOpen
	}
	return h.regs, nil
}

var _ hal.GMUHAL = (*HAL)(nil)
