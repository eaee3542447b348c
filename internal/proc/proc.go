// Package proc discovers running coding-assistant processes on the host
// so live sessions can be matched to the process driving them. Purely
// observational: nothing here feeds back into the event pipeline.
package proc

import (
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Activity describes one running assistant process.
type Activity struct {
	PID        int32
	Name       string
	WorkingDir string
	Cmdline    string
	CPUPercent float64
	StartedAt  time.Time
}

// Snapshot enumerates assistant processes. Per-process failures (races
// with exit, permission walls) are skipped, not returned.
func Snapshot() ([]Activity, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var out []Activity
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		cmdline, _ := p.Cmdline()
		if !isAssistant(name, cmdline) {
			continue
		}

		cwd, _ := p.Cwd()
		cpu, _ := p.CPUPercent()
		var started time.Time
		if ms, err := p.CreateTime(); err == nil {
			started = time.UnixMilli(ms)
		}

		out = append(out, Activity{
			PID:        p.Pid,
			Name:       name,
			WorkingDir: cwd,
			Cmdline:    cmdline,
			CPUPercent: cpu,
			StartedAt:  started,
		})
	}
	return out, nil
}

// isAssistant matches the CLI binary directly or a node runtime whose
// argv names it.
func isAssistant(name, cmdline string) bool {
	switch name {
	case "claude", "claude-code":
		return true
	}
	if name == "node" || strings.HasPrefix(name, "node") {
		return strings.Contains(cmdline, "claude")
	}
	return false
}

// ByWorkingDir indexes activities by working directory for matching
// against session cwd metadata. Later entries win on collision.
func ByWorkingDir(activities []Activity) map[string]Activity {
	m := make(map[string]Activity, len(activities))
	for _, a := range activities {
		if a.WorkingDir != "" {
			m[a.WorkingDir] = a
		}
	}
	return m
}
