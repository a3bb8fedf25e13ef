package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/files"
	"virtgate/internal/model"
	"virtgate/internal/tasks"
)

const reportExt = ".yaml"

type reportsBackend struct{ m *Model }

var (
	_ model.Lister      = reportsBackend{}
	_ model.TaskCreator = reportsBackend{}
)

func (b reportsBackend) List(ctx context.Context, args ...string) ([]string, error) {
	entries, err := b.m.reports.List()
	if err != nil {
		return nil, apperrors.NewOperationFailed("unable to list debug reports", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name, reportExt); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// CreateTask schedules generation of the report named by params["name"]
func (b reportsBackend) CreateTask(ctx context.Context, args []string, params map[string]any) (model.Info, error) {
	name, err := requiredString(params, "name")
	if err != nil {
		return nil, err
	}
	if _, err := b.m.reports.Path(name + reportExt); err != nil {
		return nil, apperrors.NewInvalidParameter(fmt.Sprintf("debug report name %s is not a valid file name", name))
	}
	if b.m.reports.Exists(name + reportExt) {
		return nil, apperrors.NewInvalidOperation(fmt.Sprintf("debug report %s already exists", name))
	}

	task, err := b.m.queue.Submit(ctx, "/debugreports/"+url.PathEscape(name), b.m.generateReport(name))
	if err != nil {
		return nil, err
	}
	return task.Info(), nil
}

// report is the document written for one debug report
type report struct {
	Name      string           `yaml:"name"`
	CreatedAt time.Time        `yaml:"created_at"`
	Runtime   map[string]any   `yaml:"runtime"`
	VMs       []map[string]any `yaml:"vms"`
	Pools     []map[string]any `yaml:"storage_pools"`
	Networks  []map[string]any `yaml:"networks"`
}

func (m *Model) generateReport(name string) tasks.Func {
	return func(ctx context.Context, progress func(string)) (string, error) {
		progress("collecting system state")

		doc := report{
			Name:      name,
			CreatedAt: time.Now().UTC(),
			Runtime: map[string]any{
				"go_version": runtime.Version(),
				"os":         runtime.GOOS,
				"arch":       runtime.GOARCH,
				"goroutines": runtime.NumGoroutine(),
			},
		}

		m.mu.RLock()
		for _, n := range sortedKeys(m.vms) {
			v := m.vms[n]
			doc.VMs = append(doc.VMs, map[string]any{"name": n, "uuid": v.uuid, "state": v.state, "memory": v.memory, "cpus": v.cpus})
		}
		for _, n := range sortedKeys(m.pools) {
			p := m.pools[n]
			doc.Pools = append(doc.Pools, map[string]any{"name": n, "type": p.kind, "state": p.state, "volumes": len(p.volumes)})
		}
		for _, n := range sortedKeys(m.networks) {
			nw := m.networks[n]
			doc.Networks = append(doc.Networks, map[string]any{"name": n, "connection": nw.connection, "state": nw.state})
		}
		m.mu.RUnlock()

		if err := ctx.Err(); err != nil {
			return "", err
		}

		data, err := yaml.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("failed to encode debug report: %w", err)
		}
		progress("writing report")
		if _, err := m.reports.WriteFile(name+reportExt, data); err != nil {
			return "", err
		}
		return "OK", nil
	}
}

type reportBackend struct{ m *Model }

var (
	_ model.Lookuper = reportBackend{}
	_ model.Deleter  = reportBackend{}
)

func (b reportBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	name := lastArg(args)
	entry, err := b.m.reports.Stat(name + reportExt)
	if err != nil {
		return nil, reportError(name, err)
	}
	return model.Info{
		"file":  entry.Path,
		"ctime": entry.ModTime.UTC().Format(time.RFC3339),
	}, nil
}

func (b reportBackend) Delete(ctx context.Context, args ...string) error {
	name := lastArg(args)
	if err := b.m.reports.Delete(name + reportExt); err != nil {
		return reportError(name, err)
	}
	return nil
}

func reportError(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, files.ErrInvalidName) {
		return apperrors.NewNotFoundError("debug report " + name)
	}
	return apperrors.NewOperationFailed("unable to access debug report "+name, err)
}

type tasksBackend struct{ m *Model }

var _ model.Lister = tasksBackend{}

func (b tasksBackend) List(ctx context.Context, args ...string) ([]string, error) {
	list, err := b.m.queue.List(tasks.Filter{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(list))
	for i, t := range list {
		ids[i] = t.ID
	}
	return ids, nil
}

type taskBackend struct{ m *Model }

var _ model.Lookuper = taskBackend{}

func (b taskBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	task, err := b.m.queue.Get(lastArg(args))
	if err != nil {
		return nil, err
	}
	return task.Info(), nil
}
