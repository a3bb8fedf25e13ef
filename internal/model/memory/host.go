package memory

import (
	"context"
	"fmt"
	"runtime"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
)

const hostMemory = 16 << 30

type configBackend struct{ m *Model }

var _ model.Lookuper = configBackend{}

func (b configBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	return model.Info{"http_port": b.m.httpPort}, nil
}

type capabilitiesBackend struct{ m *Model }

var _ model.Lookuper = capabilitiesBackend{}

func (b capabilitiesBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	return model.Info{
		"libvirt_stream_protocols": []string{"http", "https", "ftp", "ftps", "tftp"},
		"qemu_stream":              true,
		"screenshot":               true,
		"system_report_tool":       true,
	}, nil
}

type distrosBackend struct{ m *Model }

var _ model.Lister = distrosBackend{}

func (b distrosBackend) List(ctx context.Context, args ...string) ([]string, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	return sortedKeys(b.m.distros), nil
}

type distroBackend struct{ m *Model }

var _ model.Lookuper = distroBackend{}

func (b distroBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	d, ok := b.m.distros[lastArg(args)]
	if !ok {
		return nil, apperrors.NewNotFoundError("distro " + lastArg(args))
	}
	return copyInfo(d), nil
}

type hostBackend struct{ m *Model }

var (
	_ model.Lookuper = hostBackend{}
	_ model.Actioner = hostBackend{}
)

func (b hostBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	return model.Info{
		"cpu":         fmt.Sprintf("%d x %s", runtime.NumCPU(), runtime.GOARCH),
		"cpus":        runtime.NumCPU(),
		"memory":      int64(hostMemory),
		"os_distro":   runtime.GOOS,
		"os_version":  runtime.Version(),
		"os_codename": "virtgate",
		"running_vms": b.runningVMs(),
		"hypervisor":  "memory",
	}, nil
}

func (b hostBackend) runningVMs() int {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	n := 0
	for _, v := range b.m.vms {
		if v.state == vmStateRunning {
			n++
		}
	}
	return n
}

func (b hostBackend) Action(name string) (model.ActionFunc, bool) {
	switch name {
	case "reboot", "shutdown":
		return b.power(name), true
	}
	return nil, false
}

// power refuses to act while VMs are running
func (b hostBackend) power(action string) model.ActionFunc {
	return func(ctx context.Context, args ...any) error {
		if n := b.runningVMs(); n > 0 {
			return apperrors.NewOperationFailed(fmt.Sprintf("host %s refused: %d vms are running", action, n), nil)
		}
		b.m.logger.WarnContext(ctx, "host power action requested", "action", action)
		return nil
	}
}

type hostStatsBackend struct{ m *Model }

var _ model.Lookuper = hostStatsBackend{}

// Lookup reports host load derived from the running VMs
func (b hostStatsBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	b.m.mu.RLock()
	var used int64
	running := 0
	for _, v := range b.m.vms {
		if v.state == vmStateRunning {
			used += v.memory * mib
			running++
		}
	}
	b.m.mu.RUnlock()

	free := int64(hostMemory) - used
	if free < 0 {
		free = 0
	}
	cpu := float64(running) * 100 / float64(runtime.NumCPU())
	if cpu > 100 {
		cpu = 100
	}
	return model.Info{
		"cpu_utilization": cpu,
		"memory": map[string]any{
			"total":   int64(hostMemory),
			"free":    free,
			"cached":  0,
			"buffers": 0,
			"avail":   free,
		},
		"disk_read_rate":  0,
		"disk_write_rate": 0,
		"net_recv_rate":   0,
		"net_sent_rate":   0,
	}, nil
}

type partitionsBackend struct{ m *Model }

var _ model.Lister = partitionsBackend{}

func (b partitionsBackend) List(ctx context.Context, args ...string) ([]string, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	return sortedKeys(b.m.partitions), nil
}

type partitionBackend struct{ m *Model }

var _ model.Lookuper = partitionBackend{}

func (b partitionBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	p, ok := b.m.partitions[lastArg(args)]
	if !ok {
		return nil, apperrors.NewNotFoundError("partition " + lastArg(args))
	}
	return copyInfo(p), nil
}

type pluginsBackend struct{ m *Model }

var _ model.Enumerator = pluginsBackend{}

func (b pluginsBackend) Enumerate(ctx context.Context, args ...string) ([]any, error) {
	items := make([]any, len(b.m.plugins))
	for i, p := range b.m.plugins {
		items[i] = p
	}
	return items, nil
}

func copyInfo(info model.Info) model.Info {
	out := make(model.Info, len(info))
	for k, v := range info {
		out[k] = v
	}
	return out
}
