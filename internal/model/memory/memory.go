package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"virtgate/internal/files"
	"virtgate/internal/model"
	"virtgate/internal/tasks"
)

// Options configures a Model
type Options struct {
	// DataDir receives generated debug reports and screenshots
	DataDir string
	// HTTPPort is reported by the config resource
	HTTPPort int
	Queue    *tasks.Queue
	Plugins  []string
	Logger   *slog.Logger
}

// Model implements model.Model over in-memory state
type Model struct {
	mu         sync.RWMutex
	vms        map[string]*vm
	templates  map[string]*template
	pools      map[string]*pool
	networks   map[string]*network
	interfaces map[string]*iface
	distros    map[string]model.Info
	partitions map[string]model.Info
	isos       map[string]*isoImage
	nextPort   int

	httpPort    int
	plugins     []string
	queue       *tasks.Queue
	reports     *files.Store
	screenshots *files.Store
	registry    model.Registry
	logger      *slog.Logger
}

var _ model.Model = (*Model)(nil)

// New creates a model seeded with a default storage pool, network,
// interfaces, distros and partitions
func New(opts Options) (*Model, error) {
	if opts.Queue == nil {
		return nil, errors.New("memory model requires a task queue")
	}
	if opts.DataDir == "" {
		return nil, errors.New("memory model requires a data directory")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "model"))

	reports, err := files.NewStore(filepath.Join(opts.DataDir, "debugreports"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug report store: %w", err)
	}
	screenshots, err := files.NewStore(filepath.Join(opts.DataDir, "screenshots"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open screenshot store: %w", err)
	}

	m := &Model{
		vms:         make(map[string]*vm),
		templates:   make(map[string]*template),
		pools:       make(map[string]*pool),
		networks:    make(map[string]*network),
		interfaces:  make(map[string]*iface),
		distros:     make(map[string]model.Info),
		partitions:  make(map[string]model.Info),
		isos:        make(map[string]*isoImage),
		nextPort:    firstGraphicsPort,
		httpPort:    opts.HTTPPort,
		plugins:     append([]string{}, opts.Plugins...),
		queue:       opts.Queue,
		reports:     reports,
		screenshots: screenshots,
		logger:      logger,
	}
	m.seed()
	m.registry = m.backends()
	logger.Info("model ready",
		slog.String("reports_dir", reports.Root()),
		slog.String("screenshots_dir", screenshots.Root()))
	return m, nil
}

// Backend implements model.Model
func (m *Model) Backend(kind model.Kind) any {
	return m.registry.Backend(kind)
}

func (m *Model) backends() model.Registry {
	return model.Registry{
		model.KindVMs:                vmsBackend{m},
		model.KindVM:                 vmBackend{m},
		model.KindVMScreenshot:       screenshotBackend{m},
		model.KindTemplates:          templatesBackend{m},
		model.KindTemplate:           templateBackend{m},
		model.KindStoragePools:       poolsBackend{m},
		model.KindStoragePool:        poolBackend{m},
		model.KindIsoPool:            isoPoolBackend{m},
		model.KindIsoVolumes:         isoVolumesBackend{m},
		model.KindStorageVolumes:     volumesBackend{m},
		model.KindStorageVolume:      volumeBackend{m},
		model.KindNetworks:           networksBackend{m},
		model.KindNetwork:            networkBackend{m},
		model.KindInterfaces:         interfacesBackend{m},
		model.KindInterface:          interfaceBackend{m},
		model.KindTasks:              tasksBackend{m},
		model.KindTask:               taskBackend{m},
		model.KindDebugReports:       reportsBackend{m},
		model.KindDebugReport:        reportBackend{m},
		model.KindDebugReportContent: reportBackend{m},
		model.KindConfig:             configBackend{m},
		model.KindCapabilities:       capabilitiesBackend{m},
		model.KindDistros:            distrosBackend{m},
		model.KindDistro:             distroBackend{m},
		model.KindHost:               hostBackend{m},
		model.KindHostStats:          hostStatsBackend{m},
		model.KindPartitions:         partitionsBackend{m},
		model.KindPartition:          partitionBackend{m},
		model.KindPlugins:            pluginsBackend{m},
	}
}

func (m *Model) seed() {
	m.pools["default"] = &pool{
		name:      "default",
		kind:      "dir",
		path:      "/var/lib/virtgate/images",
		state:     stateActive,
		autostart: true,
		capacity:  100 << 30,
		volumes:   make(map[string]*volume),
	}

	m.interfaces["eth0"] = &iface{name: "eth0", kind: "nic", ipaddr: "192.168.0.10", netmask: "255.255.255.0", status: stateActive}
	m.interfaces["virbr0"] = &iface{name: "virbr0", kind: "bridge", ipaddr: "192.168.122.1", netmask: "255.255.255.0", status: stateActive}

	m.networks["default"] = &network{
		name:       "default",
		connection: "nat",
		iface:      "virbr0",
		subnet:     "192.168.122.0/24",
		dhcpStart:  "192.168.122.2",
		dhcpEnd:    "192.168.122.254",
		state:      stateActive,
		autostart:  true,
	}

	for _, d := range []struct{ name, distro, version, url string }{
		{"Fedora 20", "fedora", "20", "https://download.fedoraproject.org/pub/fedora/linux/releases/20/Live/x86_64/Fedora-Live-Desktop-x86_64-20-1.iso"},
		{"Ubuntu 14.04", "ubuntu", "14.04", "https://releases.ubuntu.com/14.04/ubuntu-14.04-desktop-amd64.iso"},
		{"openSUSE 13.1", "opensuse", "13.1", "https://download.opensuse.org/distribution/13.1/iso/openSUSE-13.1-DVD-x86_64.iso"},
	} {
		m.distros[d.name] = model.Info{
			"name":       d.name,
			"os_distro":  d.distro,
			"os_version": d.version,
			"os_arch":    "x86_64",
			"path":       d.url,
		}
	}

	for _, p := range []struct {
		name, fstype, mountpoint string
		size                     int64
	}{
		{"sda1", "ext4", "/boot", 512 << 20},
		{"sda2", "xfs", "/", 200 << 30},
		{"sdb1", "", "", 500 << 30},
	} {
		m.partitions[p.name] = model.Info{
			"name":       p.name,
			"path":       "/dev/" + p.name,
			"type":       "part",
			"fstype":     p.fstype,
			"mountpoint": p.mountpoint,
			"size":       p.size,
		}
	}
}
