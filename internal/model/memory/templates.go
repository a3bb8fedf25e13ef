package memory

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
)

const (
	defaultTemplateMemory = 1024
	defaultTemplateCPUs   = 1
	defaultDiskSize       = 10
)

type template struct {
	name        string
	icon        string
	osDistro    string
	osVersion   string
	cpus        int64
	memory      int64
	cdrom       string
	disks       []any
	storagePool string
	networks    []string
	folder      []string
}

func (t *template) info() model.Info {
	return model.Info{
		"icon":        t.icon,
		"os_distro":   t.osDistro,
		"os_version":  t.osVersion,
		"cpus":        t.cpus,
		"memory":      t.memory,
		"cdrom":       t.cdrom,
		"disks":       append([]any{}, t.disks...),
		"storagepool": t.storagePool,
		"networks":    append([]string{}, t.networks...),
		"folder":      append([]string{}, t.folder...),
	}
}

// apply overlays the recognised keys of params onto t
func (t *template) apply(params map[string]any) error {
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"icon", &t.icon},
		{"os_distro", &t.osDistro},
		{"os_version", &t.osVersion},
		{"cdrom", &t.cdrom},
		{"storagepool", &t.storagePool},
	} {
		s, ok, err := stringParam(params, f.key)
		if err != nil {
			return err
		}
		if ok {
			*f.dst = s
		}
	}

	if n, ok, err := intParam(params, "cpus"); err != nil {
		return err
	} else if ok {
		if n < 1 {
			return apperrors.NewInvalidParameter("cpus must be greater than zero")
		}
		t.cpus = n
	}
	if n, ok, err := intParam(params, "memory"); err != nil {
		return err
	} else if ok {
		if n < 1 {
			return apperrors.NewInvalidParameter("memory must be greater than zero")
		}
		t.memory = n
	}

	if v, ok := params["disks"]; ok && v != nil {
		disks, ok := v.([]any)
		if !ok {
			return apperrors.NewInvalidParameter("disks must be a list")
		}
		t.disks = disks
	}
	if v, ok, err := stringsParam(params, "networks"); err != nil {
		return err
	} else if ok {
		t.networks = v
	}
	if v, ok, err := stringsParam(params, "folder"); err != nil {
		return err
	} else if ok {
		t.folder = v
	}
	return nil
}

// guessOS derives distro and version from an ISO file name such as
// Fedora-Live-x86_64-20-1.iso
func guessOS(cdrom string, distros map[string]model.Info) (string, string) {
	base := strings.ToLower(path.Base(cdrom))
	for _, d := range distros {
		distro, _ := d["os_distro"].(string)
		version, _ := d["os_version"].(string)
		if distro != "" && strings.Contains(base, distro) && strings.Contains(base, version) {
			return distro, version
		}
	}
	return "unknown", "unknown"
}

type templatesBackend struct{ m *Model }

var (
	_ model.Lister  = templatesBackend{}
	_ model.Creator = templatesBackend{}
)

func (b templatesBackend) List(ctx context.Context, args ...string) ([]string, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	return sortedKeys(b.m.templates), nil
}

func (b templatesBackend) Create(ctx context.Context, args []string, params map[string]any) (string, error) {
	name, err := requiredString(params, "name")
	if err != nil {
		return "", err
	}
	if _, err := requiredString(params, "cdrom"); err != nil {
		return "", err
	}

	t := &template{
		name:        name,
		cpus:        defaultTemplateCPUs,
		memory:      defaultTemplateMemory,
		disks:       []any{map[string]any{"index": 0, "size": defaultDiskSize}},
		storagePool: "/storagepools/default",
		networks:    []string{"default"},
		folder:      []string{},
	}
	if err := t.apply(params); err != nil {
		return "", err
	}

	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	if _, exists := b.m.templates[name]; exists {
		return "", apperrors.NewInvalidOperation(fmt.Sprintf("template %s already exists", name))
	}
	if err := b.m.checkTemplateRefs(t); err != nil {
		return "", err
	}
	if t.osDistro == "" || t.osVersion == "" {
		distro, version := guessOS(t.cdrom, b.m.distros)
		if t.osDistro == "" {
			t.osDistro = distro
		}
		if t.osVersion == "" {
			t.osVersion = version
		}
	}
	if t.icon == "" {
		t.icon = "images/icon-" + t.osDistro + ".png"
	}

	b.m.templates[name] = t
	b.m.logger.InfoContext(ctx, "template created", "template", name)
	return name, nil
}

// checkTemplateRefs verifies that the pool and networks of t exist
func (m *Model) checkTemplateRefs(t *template) error {
	poolName, ok := uriIdent(t.storagePool, "/storagepools/")
	if !ok {
		return apperrors.NewInvalidParameter(fmt.Sprintf("storage pool URI %s is malformed", t.storagePool))
	}
	if _, ok := m.pools[poolName]; !ok {
		return apperrors.NewInvalidParameter(fmt.Sprintf("storage pool %s does not exist", poolName))
	}
	for _, n := range t.networks {
		if _, ok := m.networks[n]; !ok {
			return apperrors.NewInvalidParameter(fmt.Sprintf("network %s does not exist", n))
		}
	}
	return nil
}

type templateBackend struct{ m *Model }

var (
	_ model.Lookuper = templateBackend{}
	_ model.Updater  = templateBackend{}
	_ model.Deleter  = templateBackend{}
)

func (b templateBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	t, ok := b.m.templates[lastArg(args)]
	if !ok {
		return nil, apperrors.NewNotFoundError("template " + lastArg(args))
	}
	return t.info(), nil
}

// Update applies params to a copy of the template so a rejected update
// leaves it untouched
func (b templateBackend) Update(ctx context.Context, args []string, params map[string]any) (string, error) {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	name := lastArg(args)
	old, ok := b.m.templates[name]
	if !ok {
		return "", apperrors.NewNotFoundError("template " + name)
	}

	t := *old
	if err := t.apply(params); err != nil {
		return "", err
	}
	newName, hasName, err := stringParam(params, "name")
	if err != nil {
		return "", err
	}
	if hasName && newName != name {
		if newName == "" {
			return "", apperrors.NewInvalidParameter("template name must not be empty")
		}
		if _, exists := b.m.templates[newName]; exists {
			return "", apperrors.NewInvalidOperation(fmt.Sprintf("template %s already exists", newName))
		}
		t.name = newName
	}
	if err := b.m.checkTemplateRefs(&t); err != nil {
		return "", err
	}

	delete(b.m.templates, name)
	b.m.templates[t.name] = &t
	b.m.logger.InfoContext(ctx, "template updated", "template", name, "new_name", t.name)
	return t.name, nil
}

func (b templateBackend) Delete(ctx context.Context, args ...string) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	name := lastArg(args)
	if _, ok := b.m.templates[name]; !ok {
		return apperrors.NewNotFoundError("template " + name)
	}
	delete(b.m.templates, name)
	b.m.logger.InfoContext(ctx, "template deleted", "template", name)
	return nil
}

// templateURI is the canonical path of a template
func templateURI(name string) string {
	return "/templates/" + url.PathEscape(name)
}
