package memory

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
	"virtgate/internal/tasks"
)

const (
	isoPoolType = "kimchi-iso"
	mib         = 1 << 20
)

var poolTypes = map[string]bool{"dir": true, "logical": true, "netfs": true, isoPoolType: true}

type volume struct {
	name       string
	path       string
	format     string
	capacity   int64
	allocation int64
}

// info describes the volume. ISO volumes also report the guessed operating
// system and are bootable.
func (v *volume) info(distros map[string]model.Info) model.Info {
	info := model.Info{
		"type":       "file",
		"capacity":   v.capacity,
		"allocation": v.allocation,
		"path":       v.path,
		"format":     v.format,
	}
	if v.format == "iso" {
		info["os_distro"], info["os_version"] = guessOS(v.name, distros)
		info["bootable"] = true
	}
	return info
}

type pool struct {
	name      string
	kind      string
	path      string
	state     string
	autostart bool
	capacity  int64
	volumes   map[string]*volume
	taskID    string
}

func (p *pool) info() model.Info {
	var allocated int64
	for _, v := range p.volumes {
		allocated += v.allocation
	}
	nrVolumes := 0
	if p.state == stateActive {
		nrVolumes = len(p.volumes)
	}
	info := model.Info{
		"state":      p.state,
		"capacity":   p.capacity,
		"allocated":  allocated,
		"available":  p.capacity - allocated,
		"path":       p.path,
		"source":     map[string]any{},
		"type":       p.kind,
		"nr_volumes": nrVolumes,
		"autostart":  p.autostart,
	}
	if p.taskID != "" {
		info["task_id"] = p.taskID
	}
	return info
}

type isoImage struct {
	name      string
	path      string
	size      int64
	osDistro  string
	osVersion string
}

type poolsBackend struct{ m *Model }

var (
	_ model.Lister  = poolsBackend{}
	_ model.Creator = poolsBackend{}
)

func (b poolsBackend) List(ctx context.Context, args ...string) ([]string, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	return sortedKeys(b.m.pools), nil
}

// Create defines a new inactive pool. ISO pools start a background scan of
// their path and report the scan task through task_id.
func (b poolsBackend) Create(ctx context.Context, args []string, params map[string]any) (string, error) {
	name, err := requiredString(params, "name")
	if err != nil {
		return "", err
	}
	kind, err := requiredString(params, "type")
	if err != nil {
		return "", err
	}
	poolPath, err := requiredString(params, "path")
	if err != nil {
		return "", err
	}
	if !poolTypes[kind] {
		return "", apperrors.NewInvalidParameter(fmt.Sprintf("storage pool type %s is not supported", kind))
	}
	if name == model.IsoPoolName {
		return "", apperrors.NewInvalidParameter(fmt.Sprintf("storage pool name %s is reserved", name))
	}
	if !filepath.IsAbs(poolPath) {
		return "", apperrors.NewInvalidParameter("storage pool path must be absolute")
	}
	capacity, hasCapacity, err := intParam(params, "capacity")
	if err != nil {
		return "", err
	}
	if !hasCapacity {
		capacity = 10 << 10
	}

	b.m.mu.Lock()
	if _, exists := b.m.pools[name]; exists {
		b.m.mu.Unlock()
		return "", apperrors.NewInvalidOperation(fmt.Sprintf("storage pool %s already exists", name))
	}
	p := &pool{
		name:     name,
		kind:     kind,
		path:     poolPath,
		state:    stateInactive,
		capacity: capacity * mib,
		volumes:  make(map[string]*volume),
	}
	b.m.pools[name] = p
	b.m.mu.Unlock()

	b.m.logger.InfoContext(ctx, "storage pool created", "pool", name, "type", kind)
	if kind != isoPoolType {
		return name, nil
	}

	task, err := b.m.queue.Submit(ctx, "/storagepools/"+url.PathEscape(name), b.m.scanISOs(poolPath))
	if err != nil {
		b.m.mu.Lock()
		delete(b.m.pools, name)
		b.m.mu.Unlock()
		return "", err
	}
	b.m.mu.Lock()
	p.taskID = task.ID
	b.m.mu.Unlock()
	return name, nil
}

// scanISOs returns a task registering every .iso file below dir in the
// reserved ISO pool
func (m *Model) scanISOs(dir string) tasks.Func {
	return func(ctx context.Context, report func(string)) (string, error) {
		report("scanning " + dir)

		var found []*isoImage
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".iso") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			found = append(found, &isoImage{name: d.Name(), path: p, size: info.Size()})
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to scan %s: %w", dir, err)
		}

		m.mu.Lock()
		for _, iso := range found {
			iso.osDistro, iso.osVersion = guessOS(iso.name, m.distros)
			m.isos[iso.path] = iso
		}
		m.mu.Unlock()
		return fmt.Sprintf("found %d iso images", len(found)), nil
	}
}

type poolBackend struct{ m *Model }

var (
	_ model.Lookuper = poolBackend{}
	_ model.Updater  = poolBackend{}
	_ model.Deleter  = poolBackend{}
	_ model.Actioner = poolBackend{}
)

func (m *Model) pool(name string) (*pool, error) {
	p, ok := m.pools[name]
	if !ok {
		return nil, apperrors.NewNotFoundError("storage pool " + name)
	}
	return p, nil
}

func (b poolBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	p, err := b.m.pool(lastArg(args))
	if err != nil {
		return nil, err
	}
	return p.info(), nil
}

func (b poolBackend) Update(ctx context.Context, args []string, params map[string]any) (string, error) {
	autostart, ok, err := boolParam(params, "autostart")
	if err != nil {
		return "", err
	}

	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	name := lastArg(args)
	p, err := b.m.pool(name)
	if err != nil {
		return "", err
	}
	if ok {
		p.autostart = autostart
	}
	return name, nil
}

func (b poolBackend) Delete(ctx context.Context, args ...string) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	name := lastArg(args)
	p, err := b.m.pool(name)
	if err != nil {
		return err
	}
	if p.state == stateActive {
		return apperrors.NewInvalidOperation(fmt.Sprintf("storage pool %s must be deactivated before it is deleted", name))
	}
	delete(b.m.pools, name)
	b.m.logger.InfoContext(ctx, "storage pool deleted", "pool", name)
	return nil
}

func (b poolBackend) Action(name string) (model.ActionFunc, bool) {
	switch name {
	case "activate":
		return b.setState(stateActive), true
	case "deactivate":
		return b.setState(stateInactive), true
	}
	return nil, false
}

func (b poolBackend) setState(state string) model.ActionFunc {
	return func(ctx context.Context, args ...any) error {
		b.m.mu.Lock()
		defer b.m.mu.Unlock()

		p, err := b.m.pool(fmt.Sprint(args[len(args)-1]))
		if err != nil {
			return err
		}
		if p.state == state {
			return apperrors.NewInvalidOperation(fmt.Sprintf("storage pool %s is already %s", p.name, state))
		}
		p.state = state
		b.m.logger.InfoContext(ctx, "storage pool state changed", "pool", p.name, "state", state)
		return nil
	}
}

type isoPoolBackend struct{ m *Model }

var _ model.Lookuper = isoPoolBackend{}

func (b isoPoolBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	return model.Info{"state": stateActive, "type": isoPoolType}, nil
}

type isoVolumesBackend struct{ m *Model }

var _ model.Enumerator = isoVolumesBackend{}

// Enumerate lists scanned ISO images followed by iso volumes of active pools
func (b isoVolumesBackend) Enumerate(ctx context.Context, args ...string) ([]any, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()

	items := make([]any, 0, len(b.m.isos))
	for _, p := range sortedKeys(b.m.isos) {
		iso := b.m.isos[p]
		items = append(items, map[string]any{
			"name":       iso.name,
			"path":       iso.path,
			"capacity":   iso.size,
			"os_distro":  iso.osDistro,
			"os_version": iso.osVersion,
		})
	}
	for _, pn := range sortedKeys(b.m.pools) {
		p := b.m.pools[pn]
		if p.state != stateActive {
			continue
		}
		for _, vn := range sortedKeys(p.volumes) {
			v := p.volumes[vn]
			if v.format != "iso" {
				continue
			}
			distro, version := guessOS(v.name, b.m.distros)
			items = append(items, map[string]any{
				"name":       v.name,
				"path":       v.path,
				"capacity":   v.capacity,
				"os_distro":  distro,
				"os_version": version,
			})
		}
	}
	return items, nil
}

type volumesBackend struct{ m *Model }

var (
	_ model.Lister  = volumesBackend{}
	_ model.Creator = volumesBackend{}
)

func (m *Model) activePool(name string) (*pool, error) {
	p, err := m.pool(name)
	if err != nil {
		return nil, err
	}
	if p.state != stateActive {
		return nil, apperrors.NewInvalidOperation(fmt.Sprintf("storage pool %s is not active", name))
	}
	return p, nil
}

func (b volumesBackend) List(ctx context.Context, args ...string) ([]string, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	p, err := b.m.activePool(lastArg(args))
	if err != nil {
		return nil, err
	}
	return sortedKeys(p.volumes), nil
}

// Create allocates a volume. capacity and allocation are given in MiB.
func (b volumesBackend) Create(ctx context.Context, args []string, params map[string]any) (string, error) {
	name, err := requiredString(params, "name")
	if err != nil {
		return "", err
	}
	if strings.ContainsAny(name, `/\`) {
		return "", apperrors.NewInvalidParameter("volume name must not contain path separators")
	}
	capacity, ok, err := intParam(params, "capacity")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.NewMissingParameter("capacity")
	}
	allocation, _, err := intParam(params, "allocation")
	if err != nil {
		return "", err
	}
	if capacity < 1 || allocation < 0 || allocation > capacity {
		return "", apperrors.NewInvalidParameter("volume allocation must be between 0 and its capacity")
	}
	format, hasFormat, err := stringParam(params, "format")
	if err != nil {
		return "", err
	}
	if !hasFormat {
		format = "qcow2"
	}

	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	p, err := b.m.activePool(lastArg(args))
	if err != nil {
		return "", err
	}
	if _, exists := p.volumes[name]; exists {
		return "", apperrors.NewInvalidOperation(fmt.Sprintf("storage volume %s already exists in pool %s", name, p.name))
	}
	p.volumes[name] = &volume{
		name:       name,
		path:       filepath.Join(p.path, name),
		format:     format,
		capacity:   capacity * mib,
		allocation: allocation * mib,
	}
	b.m.logger.InfoContext(ctx, "storage volume created", "pool", p.name, "volume", name)
	return name, nil
}

type volumeBackend struct{ m *Model }

var (
	_ model.Lookuper = volumeBackend{}
	_ model.Deleter  = volumeBackend{}
	_ model.Actioner = volumeBackend{}
)

func (m *Model) volume(poolName, name string) (*pool, *volume, error) {
	p, err := m.activePool(poolName)
	if err != nil {
		return nil, nil, err
	}
	v, ok := p.volumes[name]
	if !ok {
		return nil, nil, apperrors.NewNotFoundError(fmt.Sprintf("storage volume %s in pool %s", name, poolName))
	}
	return p, v, nil
}

func volumeArgs(args []string) (string, string) {
	if len(args) < 2 {
		return "", lastArg(args)
	}
	return args[len(args)-2], args[len(args)-1]
}

func (b volumeBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	_, v, err := b.m.volume(volumeArgs(args))
	if err != nil {
		return nil, err
	}
	return v.info(b.m.distros), nil
}

func (b volumeBackend) Delete(ctx context.Context, args ...string) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	p, v, err := b.m.volume(volumeArgs(args))
	if err != nil {
		return err
	}
	delete(p.volumes, v.name)
	b.m.logger.InfoContext(ctx, "storage volume deleted", "pool", p.name, "volume", v.name)
	return nil
}

func (b volumeBackend) Action(name string) (model.ActionFunc, bool) {
	switch name {
	case "resize":
		return b.resize, true
	case "wipe":
		return b.wipe, true
	}
	return nil, false
}

func actionStrings(args []any, n int) ([]string, error) {
	if len(args) < n {
		return nil, apperrors.NewInvalidParameter("missing resource address")
	}
	out := make([]string, n)
	for i := range out {
		s, ok := args[i].(string)
		if !ok {
			return nil, apperrors.NewInvalidParameter("malformed resource address")
		}
		out[i] = s
	}
	return out, nil
}

// resize sets the capacity of a volume to size MiB
func (b volumeBackend) resize(ctx context.Context, args ...any) error {
	addr, err := actionStrings(args, 2)
	if err != nil {
		return err
	}
	if len(args) < 3 {
		return apperrors.NewMissingParameter("size")
	}
	size, err := toInt("size", args[2])
	if err != nil {
		return err
	}

	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	_, v, err := b.m.volume(addr[0], addr[1])
	if err != nil {
		return err
	}
	if size < 1 || size*mib < v.allocation {
		return apperrors.NewInvalidParameter(fmt.Sprintf("size %d cannot hold the %d MiB allocated to volume %s", size, v.allocation/mib, v.name))
	}
	v.capacity = size * mib
	b.m.logger.InfoContext(ctx, "storage volume resized", "pool", addr[0], "volume", v.name, "capacity", v.capacity)
	return nil
}

func (b volumeBackend) wipe(ctx context.Context, args ...any) error {
	addr, err := actionStrings(args, 2)
	if err != nil {
		return err
	}

	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	_, v, err := b.m.volume(addr[0], addr[1])
	if err != nil {
		return err
	}
	v.allocation = 0
	b.m.logger.InfoContext(ctx, "storage volume wiped", "pool", addr[0], "volume", v.name)
	return nil
}
