package memory

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"net/url"
	"strings"

	"github.com/google/uuid"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
)

const (
	vmStateRunning = "running"
	vmStateShutoff = "shutoff"

	firstGraphicsPort = 5900
)

type vm struct {
	name         string
	uuid         string
	template     string
	memory       int64
	cpus         int64
	state        string
	icon         string
	storagePool  string
	graphicsType string
	listen       string
	port         int
}

func (v *vm) info() model.Info {
	port := -1
	var screenshot any
	if v.state == vmStateRunning {
		port = v.port
		screenshot = "/vms/" + url.PathEscape(v.name) + "/screenshot"
	}
	cpuUtil := 0
	if v.state == vmStateRunning {
		cpuUtil = 1
	}
	return model.Info{
		"uuid":       v.uuid,
		"memory":     v.memory,
		"cpus":       v.cpus,
		"state":      v.state,
		"icon":       v.icon,
		"template":   v.template,
		"screenshot": screenshot,
		"graphics":   map[string]any{"type": v.graphicsType, "listen": v.listen, "port": port},
		"stats": map[string]any{
			"cpu_utilization":     cpuUtil,
			"net_throughput":      0,
			"net_throughput_peak": 100,
			"io_throughput":       0,
			"io_throughput_peak":  100,
		},
	}
}

// uriIdent extracts the identifier from a URI such as /templates/<name>
func uriIdent(uri, prefix string) (string, bool) {
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	ident := strings.TrimSuffix(strings.TrimPrefix(uri, prefix), "/")
	if ident == "" || strings.Contains(ident, "/") {
		return "", false
	}
	if u, err := url.PathUnescape(ident); err == nil {
		ident = u
	}
	return ident, true
}

type vmsBackend struct{ m *Model }

var (
	_ model.Lister  = vmsBackend{}
	_ model.Creator = vmsBackend{}
)

func (b vmsBackend) List(ctx context.Context, args ...string) ([]string, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	return sortedKeys(b.m.vms), nil
}

// Create builds a VM from the template named by the "template" URI
func (b vmsBackend) Create(ctx context.Context, args []string, params map[string]any) (string, error) {
	tmplURI, err := requiredString(params, "template")
	if err != nil {
		return "", err
	}
	tmplName, ok := uriIdent(tmplURI, "/templates/")
	if !ok {
		return "", apperrors.NewInvalidParameter(fmt.Sprintf("template URI %s is malformed", tmplURI))
	}
	name, _, err := stringParam(params, "name")
	if err != nil {
		return "", err
	}
	poolURI, hasPool, err := stringParam(params, "storagepool")
	if err != nil {
		return "", err
	}

	graphicsType, listen := "vnc", "127.0.0.1"
	if g, ok := params["graphics"].(map[string]any); ok {
		if t, ok, err := stringParam(g, "type"); err != nil {
			return "", err
		} else if ok {
			graphicsType = t
		}
		if l, ok, err := stringParam(g, "listen"); err != nil {
			return "", err
		} else if ok {
			listen = l
		}
	}

	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	t, ok := b.m.templates[tmplName]
	if !ok {
		return "", apperrors.NewInvalidParameter(fmt.Sprintf("template %s does not exist", tmplName))
	}

	poolName, _ := uriIdent(t.storagePool, "/storagepools/")
	if hasPool {
		if poolName, ok = uriIdent(poolURI, "/storagepools/"); !ok {
			return "", apperrors.NewInvalidParameter(fmt.Sprintf("storage pool URI %s is malformed", poolURI))
		}
	}
	p, ok := b.m.pools[poolName]
	if !ok {
		return "", apperrors.NewInvalidParameter(fmt.Sprintf("storage pool %s does not exist", poolName))
	}
	if p.state != stateActive {
		return "", apperrors.NewInvalidParameter(fmt.Sprintf("storage pool %s is not active", poolName))
	}

	if name == "" {
		name = b.m.generateVMName(t.name)
	}
	if _, exists := b.m.vms[name]; exists {
		return "", apperrors.NewInvalidOperation(fmt.Sprintf("vm %s already exists", name))
	}

	b.m.vms[name] = &vm{
		name:         name,
		uuid:         uuid.NewString(),
		template:     templateURI(t.name),
		memory:       t.memory,
		cpus:         t.cpus,
		state:        vmStateShutoff,
		icon:         t.icon,
		storagePool:  "/storagepools/" + url.PathEscape(p.name),
		graphicsType: graphicsType,
		listen:       listen,
	}
	b.m.logger.InfoContext(ctx, "vm created", "vm", name, "template", t.name)
	return name, nil
}

// generateVMName returns the first free "<template>-vm-<n>"
func (m *Model) generateVMName(tmpl string) string {
	for n := 1; ; n++ {
		name := fmt.Sprintf("%s-vm-%d", tmpl, n)
		if _, exists := m.vms[name]; !exists {
			return name
		}
	}
}

type vmBackend struct{ m *Model }

var (
	_ model.Lookuper = vmBackend{}
	_ model.Updater  = vmBackend{}
	_ model.Deleter  = vmBackend{}
	_ model.Actioner = vmBackend{}
)

func (b vmBackend) get(name string) (*vm, error) {
	v, ok := b.m.vms[name]
	if !ok {
		return nil, apperrors.NewNotFoundError("vm " + name)
	}
	return v, nil
}

func (b vmBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	v, err := b.get(lastArg(args))
	if err != nil {
		return nil, err
	}
	return v.info(), nil
}

// Update renames the VM. Running VMs cannot be renamed.
func (b vmBackend) Update(ctx context.Context, args []string, params map[string]any) (string, error) {
	newName, hasName, err := stringParam(params, "name")
	if err != nil {
		return "", err
	}

	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	name := lastArg(args)
	v, err := b.get(name)
	if err != nil {
		return "", err
	}
	if !hasName || newName == name {
		return name, nil
	}
	if v.state == vmStateRunning {
		return "", apperrors.NewInvalidOperation(fmt.Sprintf("cannot rename vm %s while it is running", name))
	}
	if _, exists := b.m.vms[newName]; exists {
		return "", apperrors.NewInvalidOperation(fmt.Sprintf("vm %s already exists", newName))
	}

	delete(b.m.vms, name)
	v.name = newName
	b.m.vms[newName] = v
	b.m.logger.InfoContext(ctx, "vm renamed", "vm", name, "new_name", newName)
	return newName, nil
}

// Delete powers the VM off if needed and removes it
func (b vmBackend) Delete(ctx context.Context, args ...string) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	name := lastArg(args)
	v, err := b.get(name)
	if err != nil {
		return err
	}
	delete(b.m.vms, name)
	if b.m.screenshots.Exists(v.uuid + ".png") {
		if err := b.m.screenshots.Delete(v.uuid + ".png"); err != nil {
			b.m.logger.WarnContext(ctx, "failed to remove screenshot", "vm", name, "error", err)
		}
	}
	b.m.logger.InfoContext(ctx, "vm deleted", "vm", name)
	return nil
}

func (b vmBackend) Action(name string) (model.ActionFunc, bool) {
	switch name {
	case "start":
		return b.start, true
	case "stop":
		return b.stop, true
	case "connect":
		return b.connect, true
	}
	return nil, false
}

func (b vmBackend) start(ctx context.Context, args ...any) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	v, err := b.get(fmt.Sprint(args[len(args)-1]))
	if err != nil {
		return err
	}
	if v.state == vmStateRunning {
		return apperrors.NewInvalidOperation(fmt.Sprintf("vm %s is already running", v.name))
	}
	v.state = vmStateRunning
	v.port = b.m.nextPort
	b.m.nextPort++
	b.m.logger.InfoContext(ctx, "vm started", "vm", v.name, "graphics_port", v.port)
	return nil
}

func (b vmBackend) stop(ctx context.Context, args ...any) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	v, err := b.get(fmt.Sprint(args[len(args)-1]))
	if err != nil {
		return err
	}
	if v.state != vmStateRunning {
		return apperrors.NewInvalidOperation(fmt.Sprintf("vm %s is not running", v.name))
	}
	v.state = vmStateShutoff
	v.port = 0
	b.m.logger.InfoContext(ctx, "vm stopped", "vm", v.name)
	return nil
}

// connect checks that the console of a running VM is reachable
func (b vmBackend) connect(ctx context.Context, args ...any) error {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()

	v, err := b.get(fmt.Sprint(args[len(args)-1]))
	if err != nil {
		return err
	}
	if v.state != vmStateRunning {
		return apperrors.NewInvalidOperation(fmt.Sprintf("vm %s is not running", v.name))
	}
	b.m.logger.InfoContext(ctx, "vm console connected", "vm", v.name, "graphics_port", v.port)
	return nil
}

type screenshotBackend struct{ m *Model }

var _ model.Lookuper = screenshotBackend{}

// Lookup renders the console of a running VM to a PNG file
func (b screenshotBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	b.m.mu.RLock()
	v, ok := b.m.vms[lastArg(args)]
	var running bool
	var id, name string
	if ok {
		running, id, name = v.state == vmStateRunning, v.uuid, v.name
	}
	b.m.mu.RUnlock()

	if !ok {
		return nil, apperrors.NewNotFoundError("vm " + lastArg(args))
	}
	if !running {
		return nil, apperrors.NewNotFoundError("screenshot of stopped vm " + name)
	}

	data, err := renderScreenshot(name)
	if err != nil {
		return nil, apperrors.NewOperationFailed("unable to render screenshot of vm "+name, err)
	}
	path, err := b.m.screenshots.WriteFile(id+".png", data)
	if err != nil {
		return nil, apperrors.NewOperationFailed("unable to store screenshot of vm "+name, err)
	}
	return model.Info{"file": path}, nil
}

// renderScreenshot draws a solid frame whose color is derived from name
func renderScreenshot(name string) ([]byte, error) {
	h := fnv.New32a()
	h.Write([]byte(name))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
