//go:build linux

package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// =============================================================================
// UIO Map Information
// =============================================================================

// uioMap describes one memory map exported by a UIO device.
type uioMap struct {
	index  int    // Map number; the mmap offset is index pages
	name   string // Optional name given by the driver
	addr   uint64 // Physical or device address of the map
	size   int    // Size in bytes
	offset int64  // Offset of the device memory within the first page
}

// =============================================================================
// Sysfs Parsing
// =============================================================================

// readUIOMaps reads every map of the UIO device named dev (e.g. "uio0")
// under root.
func readUIOMaps(root, dev string) ([]uioMap, error) {
	base := filepath.Join(root, dev, "maps")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}

	var maps []uioMap
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "map") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(name, "map"))
		if err != nil || index < 0 || index >= MaxMaps {
			continue
		}

		m, err := parseUIOMap(filepath.Join(base, name), index)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		maps = append(maps, m)
	}

	return maps, nil
}

// parseUIOMap parses one map directory.
func parseUIOMap(path string, index int) (uioMap, error) {
	m := uioMap{index: index}

	addr, err := readSysfsHex(filepath.Join(path, "addr"), 64)
	if err != nil {
		return m, err
	}
	m.addr = addr

	size, err := readSysfsHex(filepath.Join(path, "size"), 32)
	if err != nil {
		return m, err
	}
	m.size = int(size)

	// Older kernels have no offset attribute
	if offset, err := readSysfsHex(filepath.Join(path, "offset"), 32); err == nil {
		m.offset = int64(offset)
	}

	if name, err := readSysfsString(filepath.Join(path, "name")); err == nil {
		m.name = name
	}

	return m, nil
}

// findMap returns the map with the given index.
func findMap(maps []uioMap, index int) (uioMap, bool) {
	for _, m := range maps {
		if m.index == index {
			return m, true
		}
	}
	return uioMap{}, false
}

// =============================================================================
// Sysfs Read Helpers
// =============================================================================

// readSysfsString reads a string from a sysfs attribute file.
func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readSysfsHex reads a hexadecimal value from a sysfs attribute file.
func readSysfsHex(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, bitSize)
}
