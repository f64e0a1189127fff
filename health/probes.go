// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Stani56/Stanis-Clock-sub004/flash"
	"github.com/Stani56/Stanis-Clock-sub004/types"
)

// ConnectivityProbe verifies the device can reach its update
// infrastructure at the TCP level
func ConnectivityProbe(address string, timeout time.Duration) Probe {
	return NewProbe("connectivity", func() (bool, string) {
		conn, err := net.DialTimeout("tcp", address, timeout)
		if err != nil {
			return false, fmt.Sprintf("dial %s: %s", address, err)
		}
		conn.Close()
		return true, ""
	})
}

// ClockProbe verifies the system time is set to something plausible.
// A clock display with an unset time source has failed its one job.
func ClockProbe(earliest time.Time) Probe {
	return NewProbe("timesource", func() (bool, string) {
		now := time.Now()
		if now.Before(earliest) {
			return false, fmt.Sprintf("system time %s before %s",
				now.Format(time.RFC3339), earliest.Format(time.RFC3339))
		}
		return true, ""
	})
}

// MemoryProbe verifies the system has headroom left after the new
// firmware started up
func MemoryProbe(minAvailableBytes uint64) Probe {
	return NewProbe("memory", func() (bool, string) {
		avail, err := memAvailable()
		if err != nil {
			return false, err.Error()
		}
		if avail < minAvailableBytes {
			return false, fmt.Sprintf("%d bytes available, need %d",
				avail, minAvailableBytes)
		}
		return true, ""
	})
}

func memAvailable() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("MemAvailable not found in /proc/meminfo")
}

// DisplayBusProbe verifies the display controller is still present on
// its bus after the new firmware initialized the peripherals
func DisplayBusProbe(devicePath string) Probe {
	return NewProbe("displaybus", func() (bool, string) {
		fi, err := os.Stat(devicePath)
		if err != nil {
			return false, fmt.Sprintf("stat %s: %s", devicePath, err)
		}
		if fi.Mode()&os.ModeDevice == 0 {
			return false, fmt.Sprintf("%s is not a device node", devicePath)
		}
		return true, ""
	})
}

// SlotStateProbe verifies the running slot is in a bootable state
func SlotStateProbe(m *flash.Manager) Probe {
	return NewProbe("slotstate", func() (bool, string) {
		current := m.GetCurrentPartition()
		state := m.PartitionState(current)
		switch state {
		case types.PartitionStateActive, types.PartitionStateInProgress:
			return true, ""
		default:
			return false, fmt.Sprintf("slot %s in state %s", current, state)
		}
	})
}
