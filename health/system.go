package health

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// GetSystemUsage returns the current CPU and memory utilization percentages.
func GetSystemUsage() (cpuPercent, memPercent float64, err error) {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}
	if len(percentages) == 0 {
		return 0, 0, fmt.Errorf("could not get CPU usage")
	}

	virtualMem, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return percentages[0], virtualMem.UsedPercent, nil
}
