package sysinfo

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
)

// Info is a snapshot of local compute resources
type Info struct {
	Hostname         string  `json:"hostname"`
	CPUs             int     `json:"cpus"`
	TotalMemoryGB    float64 `json:"total_memory_gb"`
	FreeMemoryGB     float64 `json:"free_memory_gb"`
	TotalDiskGB      float64 `json:"total_disk_gb"`
	FreeDiskGB       float64 `json:"free_disk_gb"`
	TotalMemoryHuman string  `json:"total_memory_human"`
	FreeDiskHuman    string  `json:"free_disk_human"`
	Platform         string  `json:"platform"`
}

// Probe collects a best-effort snapshot. Fields that cannot be read are
// left zero rather than failing the call.
func Probe(dataDir string) Info {
	info := Info{
		CPUs:     runtime.NumCPU(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	if host, err := os.Hostname(); err == nil {
		info.Hostname = host
	}

	total, free := memInfo()
	info.TotalMemoryGB = round1(float64(total) / (1 << 30))
	info.FreeMemoryGB = round1(float64(free) / (1 << 30))
	info.TotalMemoryHuman = humanize.IBytes(total)

	var fs syscall.Statfs_t
	if err := syscall.Statfs(dataDir, &fs); err == nil {
		totalDisk := fs.Blocks * uint64(fs.Bsize)
		freeDisk := fs.Bavail * uint64(fs.Bsize)
		info.TotalDiskGB = round1(float64(totalDisk) / (1 << 30))
		info.FreeDiskGB = round1(float64(freeDisk) / (1 << 30))
		info.FreeDiskHuman = humanize.IBytes(freeDisk)
	}
	return info
}

// memInfo reads total and available memory from /proc/meminfo; returns
// zeros on non-Linux hosts
func memInfo() (total, available uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb * 1024
		case "MemAvailable:":
			available = kb * 1024
		}
	}
	return total, available
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
