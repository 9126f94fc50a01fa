package tool

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"korah/internal/domain"
)

// cpuSampleInterval is the sampling window for CPU percentages: counters
// are read once, again after this delay, and the reported value is the
// usage over that window. cpu_min/cpu_max filters compare against exactly
// this window, so results are comparable across runs.
const cpuSampleInterval = 200 * time.Millisecond

// FindProcesses takes a one-shot snapshot of running processes filtered by
// compound criteria. It is not a monitor; each call samples once.
type FindProcesses struct {
	logger *slog.Logger
}

func NewFindProcesses(logger *slog.Logger) *FindProcesses {
	return &FindProcesses{logger: logger}
}

// ProcessMatch is one emitted process search record. Details are attached
// only when detailed_output is requested.
type ProcessMatch struct {
	Name string `json:"name"`
	Pid  int32  `json:"pid"`
	*ProcessDetails
}

type ProcessDetails struct {
	Cmdline    []string `json:"cmdline"`
	Exe        string   `json:"exe,omitempty"`
	CPUPercent float64  `json:"cpu_percent"`
	Memory     uint64   `json:"memory"`
	DiskRead   uint64   `json:"disk_read"`
	DiskWrite  uint64   `json:"disk_write"`
	TCPPorts   []uint16 `json:"tcp_ports"`
	UDPPorts   []uint16 `json:"udp_ports"`
}

func (p *FindProcesses) Name() string { return "find_processes" }

func (p *FindProcesses) Description() string {
	return "Find running processes by name, CPU usage, memory, disk IO and bound network ports."
}

func (p *FindProcesses) Descriptor() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name:        p.Name(),
		Description: p.Description(),
		Params: []domain.ParamSpec{
			{Name: "name_pattern", Kind: domain.KindRegex, Description: "RE2 regex matched against the process name."},
			{Name: "cpu_min", Kind: domain.KindNumber, Description: "Minimum CPU usage in percent."},
			{Name: "cpu_max", Kind: domain.KindNumber, Description: "Maximum CPU usage in percent."},
			{Name: "mem_min", Kind: domain.KindSize, Description: "Minimum resident memory in bytes; humanized forms like 1GB are accepted."},
			{Name: "mem_max", Kind: domain.KindSize, Description: "Maximum resident memory in bytes; humanized forms like 1GB are accepted."},
			{Name: "disk_read_min", Kind: domain.KindSize, Description: "Minimum bytes read from disk."},
			{Name: "disk_read_max", Kind: domain.KindSize, Description: "Maximum bytes read from disk."},
			{Name: "disk_write_min", Kind: domain.KindSize, Description: "Minimum bytes written to disk."},
			{Name: "disk_write_max", Kind: domain.KindSize, Description: "Maximum bytes written to disk."},
			{Name: "ports", Kind: domain.KindPorts, Description: "Bound ports, e.g. tcp:443, udp:53 or a comma-separated list. A bare protocol matches any bound port of that protocol."},
			{Name: "detailed_output", Kind: domain.KindBool, Description: "Include cmdline, exe, cpu, memory, disk and port details in each record."},
		},
		Ranges: [][2]string{
			{"cpu_min", "cpu_max"},
			{"mem_min", "mem_max"},
			{"disk_read_min", "disk_read_max"},
			{"disk_write_min", "disk_write_max"},
		},
	}
}

// processInfo is the collected per-process sample the filter runs on.
type processInfo struct {
	Name       string
	Pid        int32
	CPUPercent float64
	Memory     uint64
	DiskRead   uint64
	DiskWrite  uint64
	Cmdline    []string
	Exe        string
	TCPPorts   []uint16
	UDPPorts   []uint16
}

type processCriteria struct {
	name *regexp.Regexp

	cpuMin, cpuMax         float64
	hasCPUMin, hasCPUMax   bool
	memMin, memMax         uint64
	hasMemMin, hasMemMax   bool
	readMin, readMax       uint64
	hasReadMin, hasReadMax bool
	writeMin, writeMax     uint64
	hasWriteMin            bool
	hasWriteMax            bool

	ports    []PortSpec
	detailed bool
}

func processCriteriaFromArgs(args map[string]any) *processCriteria {
	c := &processCriteria{
		name:     argRegexp(args, "name_pattern"),
		ports:    argPorts(args, "ports"),
		detailed: argBool(args, "detailed_output"),
	}
	c.cpuMin, c.hasCPUMin = argNumber(args, "cpu_min")
	c.cpuMax, c.hasCPUMax = argNumber(args, "cpu_max")
	c.memMin, c.hasMemMin = argSize(args, "mem_min")
	c.memMax, c.hasMemMax = argSize(args, "mem_max")
	c.readMin, c.hasReadMin = argSize(args, "disk_read_min")
	c.readMax, c.hasReadMax = argSize(args, "disk_read_max")
	c.writeMin, c.hasWriteMin = argSize(args, "disk_write_min")
	c.writeMax, c.hasWriteMax = argSize(args, "disk_write_max")
	return c
}

// wantSockets reports whether the per-process socket table is needed.
// Gathering it is the most expensive part of collection, so it is skipped
// unless a port filter or detailed output asks for it.
func (c *processCriteria) wantSockets() bool {
	return len(c.ports) > 0 || c.detailed
}

func (c *processCriteria) matches(p *processInfo) bool {
	if c.name != nil && !c.name.MatchString(p.Name) {
		return false
	}
	if c.hasCPUMin && p.CPUPercent < c.cpuMin {
		return false
	}
	if c.hasCPUMax && p.CPUPercent > c.cpuMax {
		return false
	}
	if c.hasMemMin && p.Memory < c.memMin {
		return false
	}
	if c.hasMemMax && p.Memory > c.memMax {
		return false
	}
	if c.hasReadMin && p.DiskRead < c.readMin {
		return false
	}
	if c.hasReadMax && p.DiskRead > c.readMax {
		return false
	}
	if c.hasWriteMin && p.DiskWrite < c.writeMin {
		return false
	}
	if c.hasWriteMax && p.DiskWrite > c.writeMax {
		return false
	}
	if len(c.ports) > 0 && !c.matchesPorts(p) {
		return false
	}
	return true
}

// matchesPorts reports whether any process socket matches any requested
// {protocol, port} pair. Port zero matches any bound port of the protocol.
func (c *processCriteria) matchesPorts(p *processInfo) bool {
	for _, spec := range c.ports {
		bound := p.TCPPorts
		if spec.Proto == "udp" {
			bound = p.UDPPorts
		}
		if spec.Port == 0 {
			if len(bound) > 0 {
				return true
			}
			continue
		}
		if slices.Contains(bound, spec.Port) {
			return true
		}
	}
	return false
}

func (p *FindProcesses) Search(ctx context.Context, args map[string]any) (<-chan any, error) {
	coerced, err := Coerce(p.Descriptor(), args)
	if err != nil {
		return nil, err
	}
	c := processCriteriaFromArgs(coerced)

	snapshot, err := p.snapshot(ctx, c)
	if err != nil {
		return nil, err
	}

	out := make(chan any, 64)
	go func() {
		defer close(out)
		for i := range snapshot {
			info := &snapshot[i]
			if !c.matches(info) {
				continue
			}
			match := ProcessMatch{Name: info.Name, Pid: info.Pid}
			if c.detailed {
				match.ProcessDetails = &ProcessDetails{
					Cmdline:    info.Cmdline,
					Exe:        info.Exe,
					CPUPercent: info.CPUPercent,
					Memory:     info.Memory,
					DiskRead:   info.DiskRead,
					DiskWrite:  info.DiskWrite,
					TCPPorts:   info.TCPPorts,
					UDPPorts:   info.UDPPorts,
				}
			}
			select {
			case out <- match:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// snapshot enumerates processes and samples their metrics once. A failure
// to enumerate at all is fatal; a process that exits between enumeration
// and collection is skipped.
func (p *FindProcesses) snapshot(ctx context.Context, c *processCriteria) ([]processInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("process enumeration: %w", err)
	}

	// First read primes the CPU counters; the delta after the sampling
	// delay is the reported percentage.
	for _, proc := range procs {
		_, _ = proc.PercentWithContext(ctx, 0)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(cpuSampleInterval):
	}

	infos := make([]processInfo, 0, len(procs))
	for _, proc := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, ok := p.collect(ctx, proc, c)
		if !ok {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (p *FindProcesses) collect(ctx context.Context, proc *process.Process, c *processCriteria) (processInfo, bool) {
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		// Exited between enumeration and collection: benign race.
		p.logger.Debug("skipping process", "pid", proc.Pid, "err", err)
		return processInfo{}, false
	}
	info := processInfo{Name: name, Pid: proc.Pid}

	if cpu, err := proc.PercentWithContext(ctx, 0); err == nil {
		info.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		info.Memory = mem.RSS
	}
	if counters, err := proc.IOCountersWithContext(ctx); err == nil && counters != nil {
		info.DiskRead = counters.ReadBytes
		info.DiskWrite = counters.WriteBytes
	}

	if c.detailed {
		if cmdline, err := proc.CmdlineSliceWithContext(ctx); err == nil {
			info.Cmdline = cmdline
		}
		if exe, err := proc.ExeWithContext(ctx); err == nil {
			info.Exe = exe
		}
	}

	if c.wantSockets() {
		if conns, err := proc.ConnectionsWithContext(ctx); err == nil {
			for _, conn := range conns {
				port := uint16(conn.Laddr.Port)
				switch conn.Type {
				case syscall.SOCK_STREAM:
					info.TCPPorts = append(info.TCPPorts, port)
				case syscall.SOCK_DGRAM:
					info.UDPPorts = append(info.UDPPorts, port)
				}
			}
			info.TCPPorts = dedupePorts(info.TCPPorts)
			info.UDPPorts = dedupePorts(info.UDPPorts)
		}
	}

	return info, true
}

func dedupePorts(ports []uint16) []uint16 {
	if len(ports) < 2 {
		return ports
	}
	slices.Sort(ports)
	return slices.Compact(ports)
}
