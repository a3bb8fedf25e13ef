package memory

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
	"virtgate/internal/shared/testutil"
	"virtgate/internal/tasks"
)

func newTestModel(t *testing.T) *Model {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	queue := tasks.NewQueue(2, 8, nil, logger)
	queue.Start(context.Background())
	t.Cleanup(func() { _ = queue.Stop(time.Second) })

	m, err := New(Options{DataDir: t.TempDir(), HTTPPort: 8000, Queue: queue, Logger: logger, Plugins: []string{"sample"}})
	require.NoError(t, err)
	return m
}

func waitForTask(t *testing.T, m *Model, id string) *tasks.Task {
	t.Helper()
	var task *tasks.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = m.queue.Get(id)
		return err == nil && task.Done()
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func createTemplate(t *testing.T, m *Model, name string) {
	t.Helper()
	_, err := m.Backend(model.KindTemplates).(model.Creator).Create(context.Background(), nil,
		map[string]any{"name": name, "cdrom": "/isos/Fedora-Live-x86_64-20-1.iso"})
	require.NoError(t, err)
}

func TestNew(t *testing.T) {
	_, err := New(Options{DataDir: t.TempDir()})
	assert.Error(t, err)

	logger, _ := testutil.NewTestLogger(t)
	_, err = New(Options{Queue: tasks.NewQueue(1, 1, nil, logger)})
	assert.Error(t, err)
}

func TestNew_LogsDataDirectories(t *testing.T) {
	dir := t.TempDir()
	logger, logHandler := testutil.NewTestLogger(t)
	_, err := New(Options{DataDir: dir, Queue: tasks.NewQueue(1, 1, nil, logger), Logger: logger})
	require.NoError(t, err)
	assert.True(t, logHandler.ContainsAttr("reports_dir", filepath.Join(dir, "debugreports")))
}

func TestBackendCoversEveryKind(t *testing.T) {
	m := newTestModel(t)

	kinds := []model.Kind{
		model.KindVMs, model.KindVM, model.KindVMScreenshot, model.KindTemplates, model.KindTemplate,
		model.KindStoragePools, model.KindStoragePool, model.KindIsoPool, model.KindIsoVolumes,
		model.KindStorageVolumes, model.KindStorageVolume, model.KindNetworks, model.KindNetwork,
		model.KindInterfaces, model.KindInterface, model.KindTasks, model.KindTask,
		model.KindDebugReports, model.KindDebugReport, model.KindDebugReportContent,
		model.KindConfig, model.KindCapabilities, model.KindDistros, model.KindDistro,
		model.KindHost, model.KindHostStats, model.KindPartitions, model.KindPartition, model.KindPlugins,
	}
	for _, kind := range kinds {
		assert.NotNil(t, m.Backend(kind), kind)
	}
	assert.Nil(t, m.Backend(model.Kind("unknown")))
}

func TestTemplateLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)
	createTemplate(t, m, "test1")

	tmpl := m.Backend(model.KindTemplate)
	info, err := tmpl.(model.Lookuper).Lookup(ctx, "test1")
	require.NoError(t, err)
	assert.Equal(t, int64(defaultTemplateMemory), info["memory"])
	assert.Equal(t, "fedora", info["os_distro"])
	assert.Equal(t, "20", info["os_version"])
	assert.Equal(t, "/storagepools/default", info["storagepool"])
	assert.Equal(t, []string{}, info["folder"])

	ident, err := tmpl.(model.Updater).Update(ctx, []string{"test1"}, map[string]any{"memory": float64(2048)})
	require.NoError(t, err)
	assert.Equal(t, "test1", ident)
	info, err = tmpl.(model.Lookuper).Lookup(ctx, "test1")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info["memory"])

	_, err = tmpl.(model.Updater).Update(ctx, []string{"test1"}, map[string]any{"memory": float64(4096), "storagepool": "/storagepools/missing"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInvalidParameter))
	info, _ = tmpl.(model.Lookuper).Lookup(ctx, "test1")
	assert.Equal(t, int64(2048), info["memory"], "rejected update must not apply")

	ident, err = tmpl.(model.Updater).Update(ctx, []string{"test1"}, map[string]any{"name": "test2"})
	require.NoError(t, err)
	assert.Equal(t, "test2", ident)
	_, err = tmpl.(model.Lookuper).Lookup(ctx, "test1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	require.NoError(t, tmpl.(model.Deleter).Delete(ctx, "test2"))
	names, err := m.Backend(model.KindTemplates).(model.Lister).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestTemplateCreateErrors(t *testing.T) {
	m := newTestModel(t)
	createTemplate(t, m, "dup")
	creator := m.Backend(model.KindTemplates).(model.Creator)

	tests := []struct {
		name    string
		params  map[string]any
		errType apperrors.ErrorType
	}{
		{name: "missing name", params: map[string]any{"cdrom": "/a.iso"}, errType: apperrors.ErrTypeMissingParameter},
		{name: "missing cdrom", params: map[string]any{"name": "x"}, errType: apperrors.ErrTypeMissingParameter},
		{name: "duplicate", params: map[string]any{"name": "dup", "cdrom": "/a.iso"}, errType: apperrors.ErrTypeInvalidOperation},
		{name: "fractional cpus", params: map[string]any{"name": "x", "cdrom": "/a.iso", "cpus": 1.5}, errType: apperrors.ErrTypeInvalidParameter},
		{name: "unknown network", params: map[string]any{"name": "x", "cdrom": "/a.iso", "networks": []any{"nope"}}, errType: apperrors.ErrTypeInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := creator.Create(context.Background(), nil, tt.params)
			assert.True(t, apperrors.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestVMLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)
	createTemplate(t, m, "tmpl")

	vms := m.Backend(model.KindVMs)
	name, err := vms.(model.Creator).Create(ctx, nil, map[string]any{"template": "/templates/tmpl"})
	require.NoError(t, err)
	assert.Equal(t, "tmpl-vm-1", name)

	vmb := m.Backend(model.KindVM)
	info, err := vmb.(model.Lookuper).Lookup(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, vmStateShutoff, info["state"])
	assert.Nil(t, info["screenshot"])
	assert.Equal(t, -1, info["graphics"].(map[string]any)["port"])

	_, err = m.Backend(model.KindVMScreenshot).(model.Lookuper).Lookup(ctx, name)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	start, ok := vmb.(model.Actioner).Action("start")
	require.True(t, ok)
	require.NoError(t, start(ctx, name))
	assert.True(t, apperrors.IsType(start(ctx, name), apperrors.ErrTypeInvalidOperation))

	info, err = vmb.(model.Lookuper).Lookup(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, vmStateRunning, info["state"])
	assert.Equal(t, "/vms/tmpl-vm-1/screenshot", info["screenshot"])
	assert.Equal(t, firstGraphicsPort, info["graphics"].(map[string]any)["port"])

	shot, err := m.Backend(model.KindVMScreenshot).(model.Lookuper).Lookup(ctx, name)
	require.NoError(t, err)
	data, err := os.ReadFile(shot["file"].(string))
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	connect, _ := vmb.(model.Actioner).Action("connect")
	require.NoError(t, connect(ctx, name))

	_, err = vmb.(model.Updater).Update(ctx, []string{name}, map[string]any{"name": "renamed"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInvalidOperation))

	stop, _ := vmb.(model.Actioner).Action("stop")
	require.NoError(t, stop(ctx, name))
	assert.True(t, apperrors.IsType(connect(ctx, name), apperrors.ErrTypeInvalidOperation))

	ident, err := vmb.(model.Updater).Update(ctx, []string{name}, map[string]any{"name": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", ident)

	require.NoError(t, vmb.(model.Deleter).Delete(ctx, "renamed"))
	_, err = vmb.(model.Lookuper).Lookup(ctx, "renamed")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
	assert.False(t, m.screenshots.Exists(filepath.Base(shot["file"].(string))))

	_, ok = vmb.(model.Actioner).Action("reboot")
	assert.False(t, ok)
}

func TestVMCreateErrors(t *testing.T) {
	m := newTestModel(t)
	createTemplate(t, m, "tmpl")
	creator := m.Backend(model.KindVMs).(model.Creator)
	_, err := creator.Create(context.Background(), nil, map[string]any{"name": "taken", "template": "/templates/tmpl"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		params  map[string]any
		errType apperrors.ErrorType
	}{
		{name: "missing template", params: map[string]any{"name": "a"}, errType: apperrors.ErrTypeMissingParameter},
		{name: "malformed template", params: map[string]any{"template": "tmpl"}, errType: apperrors.ErrTypeInvalidParameter},
		{name: "unknown template", params: map[string]any{"template": "/templates/nope"}, errType: apperrors.ErrTypeInvalidParameter},
		{name: "unknown pool", params: map[string]any{"template": "/templates/tmpl", "storagepool": "/storagepools/nope"}, errType: apperrors.ErrTypeInvalidParameter},
		{name: "duplicate", params: map[string]any{"name": "taken", "template": "/templates/tmpl"}, errType: apperrors.ErrTypeInvalidOperation},
		{name: "non-string name", params: map[string]any{"name": 1.0, "template": "/templates/tmpl"}, errType: apperrors.ErrTypeInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := creator.Create(context.Background(), nil, tt.params)
			assert.True(t, apperrors.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestStoragePoolsAndVolumes(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)

	pools := m.Backend(model.KindStoragePools)
	name, err := pools.(model.Creator).Create(ctx, nil, map[string]any{"name": "p1", "type": "dir", "path": "/srv/p1"})
	require.NoError(t, err)

	poolb := m.Backend(model.KindStoragePool)
	info, err := poolb.(model.Lookuper).Lookup(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, stateInactive, info["state"])
	assert.NotContains(t, info, "task_id")

	volumes := m.Backend(model.KindStorageVolumes)
	_, err = volumes.(model.Lister).List(ctx, "p1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInvalidOperation))

	activate, _ := poolb.(model.Actioner).Action("activate")
	require.NoError(t, activate(ctx, "p1"))

	_, err = volumes.(model.Creator).Create(ctx, []string{"p1"}, map[string]any{"name": "v1", "capacity": float64(100), "allocation": float64(40)})
	require.NoError(t, err)

	idents, err := volumes.(model.Lister).List(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, idents)

	volb := m.Backend(model.KindStorageVolume)
	resize, _ := volb.(model.Actioner).Action("resize")
	require.NoError(t, resize(ctx, "p1", "v1", float64(10*1024)))
	assert.True(t, apperrors.IsType(resize(ctx, "p1", "v1", float64(10)), apperrors.ErrTypeInvalidParameter))
	assert.True(t, apperrors.IsType(resize(ctx, "p1", "v1", "big"), apperrors.ErrTypeInvalidParameter))

	info, err = volb.(model.Lookuper).Lookup(ctx, "p1", "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(10*1024)*mib, info["capacity"])
	assert.Equal(t, "/srv/p1/v1", info["path"])

	wipe, _ := volb.(model.Actioner).Action("wipe")
	require.NoError(t, wipe(ctx, "p1", "v1"))
	info, _ = volb.(model.Lookuper).Lookup(ctx, "p1", "v1")
	assert.Equal(t, int64(0), info["allocation"])

	ident, err := poolb.(model.Updater).Update(ctx, []string{"p1"}, map[string]any{"autostart": true})
	require.NoError(t, err)
	assert.Equal(t, "p1", ident)
	_, err = poolb.(model.Updater).Update(ctx, []string{"p1"}, map[string]any{"autostart": "yes"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInvalidParameter))

	assert.True(t, apperrors.IsType(poolb.(model.Deleter).Delete(ctx, "p1"), apperrors.ErrTypeInvalidOperation))
	require.NoError(t, volb.(model.Deleter).Delete(ctx, "p1", "v1"))
	deactivate, _ := poolb.(model.Actioner).Action("deactivate")
	require.NoError(t, deactivate(ctx, "p1"))
	require.NoError(t, poolb.(model.Deleter).Delete(ctx, "p1"))
}

func TestStoragePoolCreateErrors(t *testing.T) {
	m := newTestModel(t)
	creator := m.Backend(model.KindStoragePools).(model.Creator)

	tests := []struct {
		name    string
		params  map[string]any
		errType apperrors.ErrorType
	}{
		{name: "reserved name", params: map[string]any{"name": "isos", "type": "dir", "path": "/x"}, errType: apperrors.ErrTypeInvalidParameter},
		{name: "duplicate", params: map[string]any{"name": "default", "type": "dir", "path": "/x"}, errType: apperrors.ErrTypeInvalidOperation},
		{name: "bad type", params: map[string]any{"name": "p", "type": "ceph", "path": "/x"}, errType: apperrors.ErrTypeInvalidParameter},
		{name: "relative path", params: map[string]any{"name": "p", "type": "dir", "path": "x"}, errType: apperrors.ErrTypeInvalidParameter},
		{name: "missing path", params: map[string]any{"name": "p", "type": "dir"}, errType: apperrors.ErrTypeMissingParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := creator.Create(context.Background(), nil, tt.params)
			assert.True(t, apperrors.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestIsoPoolScan(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ubuntu-14.04-desktop-amd64.iso"), []byte("iso"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("txt"), 0o644))

	_, err := m.Backend(model.KindStoragePools).(model.Creator).Create(ctx, nil,
		map[string]any{"name": "scan", "type": isoPoolType, "path": dir})
	require.NoError(t, err)

	info, err := m.Backend(model.KindStoragePool).(model.Lookuper).Lookup(ctx, "scan")
	require.NoError(t, err)
	taskID, ok := info["task_id"].(string)
	require.True(t, ok)

	task := waitForTask(t, m, taskID)
	assert.Equal(t, tasks.StatusFinished, task.Status)
	assert.Equal(t, "found 1 iso images", task.Message)

	items, err := m.Backend(model.KindIsoVolumes).(model.Enumerator).Enumerate(ctx, model.IsoPoolName)
	require.NoError(t, err)
	require.Len(t, items, 1)
	iso := items[0].(map[string]any)
	assert.Equal(t, "ubuntu-14.04-desktop-amd64.iso", iso["name"])
	assert.Equal(t, "ubuntu", iso["os_distro"])

	pool, err := m.Backend(model.KindIsoPool).(model.Lookuper).Lookup(ctx, model.IsoPoolName)
	require.NoError(t, err)
	assert.Equal(t, isoPoolType, pool["type"])
}

func TestNetworks(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)
	creator := m.Backend(model.KindNetworks).(model.Creator)

	name, err := creator.Create(ctx, nil, map[string]any{"name": "n1", "connection": "nat"})
	require.NoError(t, err)
	info, err := m.Backend(model.KindNetwork).(model.Lookuper).Lookup(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "192.168.100.0/24", info["subnet"])
	assert.Equal(t, map[string]any{"start": "192.168.100.2", "end": "192.168.100.254"}, info["dhcp"])
	assert.Equal(t, stateInactive, info["state"])

	tests := []struct {
		name    string
		params  map[string]any
		errType apperrors.ErrorType
	}{
		{name: "overlap", params: map[string]any{"name": "n2", "connection": "nat", "subnet": "192.168.122.0/25"}, errType: apperrors.ErrTypeInvalidParameter},
		{name: "bad cidr", params: map[string]any{"name": "n2", "connection": "isolated", "subnet": "300.1.1.0/24"}, errType: apperrors.ErrTypeInvalidParameter},
		{name: "bridge without interface", params: map[string]any{"name": "n2", "connection": "bridge"}, errType: apperrors.ErrTypeMissingParameter},
		{name: "unknown interface", params: map[string]any{"name": "n2", "connection": "bridge", "interface": "eth9"}, errType: apperrors.ErrTypeInvalidParameter},
		{name: "duplicate", params: map[string]any{"name": "default", "connection": "nat"}, errType: apperrors.ErrTypeInvalidOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := creator.Create(ctx, nil, tt.params)
			assert.True(t, apperrors.IsType(err, tt.errType), "got %v", err)
		})
	}

	netb := m.Backend(model.KindNetwork)
	activate, _ := netb.(model.Actioner).Action("activate")
	require.NoError(t, activate(ctx, "n1"))
	assert.True(t, apperrors.IsType(netb.(model.Deleter).Delete(ctx, "n1"), apperrors.ErrTypeInvalidOperation))
	deactivate, _ := netb.(model.Actioner).Action("deactivate")
	require.NoError(t, deactivate(ctx, "n1"))
	require.NoError(t, netb.(model.Deleter).Delete(ctx, "n1"))

	ifaces, err := m.Backend(model.KindInterfaces).(model.Lister).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"eth0", "virbr0"}, ifaces)
}

func TestDebugReports(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)

	creator := m.Backend(model.KindDebugReports).(model.TaskCreator)
	info, err := creator.CreateTask(ctx, nil, map[string]any{"name": "report1"})
	require.NoError(t, err)
	assert.Equal(t, "running", info["status"])
	assert.Equal(t, "/debugreports/report1", info["target"])

	task := waitForTask(t, m, info["id"].(string))
	assert.Equal(t, tasks.StatusFinished, task.Status)
	assert.Equal(t, "OK", task.Message)

	names, err := m.Backend(model.KindDebugReports).(model.Lister).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"report1"}, names)

	report, err := m.Backend(model.KindDebugReport).(model.Lookuper).Lookup(ctx, "report1")
	require.NoError(t, err)
	data, err := os.ReadFile(report["file"].(string))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: report1")
	assert.NotEmpty(t, report["ctime"])

	_, err = creator.CreateTask(ctx, nil, map[string]any{"name": "report1"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInvalidOperation))
	_, err = creator.CreateTask(ctx, nil, map[string]any{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeMissingParameter))
	_, err = creator.CreateTask(ctx, nil, map[string]any{"name": "../x"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInvalidParameter))

	require.NoError(t, m.Backend(model.KindDebugReport).(model.Deleter).Delete(ctx, "report1"))
	_, err = m.Backend(model.KindDebugReportContent).(model.Lookuper).Lookup(ctx, "report1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	ids, err := m.Backend(model.KindTasks).(model.Lister).List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, task.ID)
	taskInfo, err := m.Backend(model.KindTask).(model.Lookuper).Lookup(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "finished", taskInfo["status"])
}

func TestHost(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t)
	createTemplate(t, m, "tmpl")

	host := m.Backend(model.KindHost)
	reboot, ok := host.(model.Actioner).Action("reboot")
	require.True(t, ok)
	require.NoError(t, reboot(ctx))

	name, err := m.Backend(model.KindVMs).(model.Creator).Create(ctx, nil, map[string]any{"template": "/templates/tmpl"})
	require.NoError(t, err)
	start, _ := m.Backend(model.KindVM).(model.Actioner).Action("start")
	require.NoError(t, start(ctx, name))

	shutdown, _ := host.(model.Actioner).Action("shutdown")
	assert.True(t, apperrors.IsType(shutdown(ctx), apperrors.ErrTypeOperationFailed))

	stats, err := m.Backend(model.KindHostStats).(model.Lookuper).Lookup(ctx)
	require.NoError(t, err)
	mem := stats["memory"].(map[string]any)
	assert.Equal(t, int64(hostMemory)-int64(defaultTemplateMemory)*mib, mem["free"])

	cfg, err := m.Backend(model.KindConfig).(model.Lookuper).Lookup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg["http_port"])

	plugins, err := m.Backend(model.KindPlugins).(model.Enumerator).Enumerate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"sample"}, plugins)

	parts, err := m.Backend(model.KindPartitions).(model.Lister).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sda1", "sda2", "sdb1"}, parts)
	_, err = m.Backend(model.KindPartition).(model.Lookuper).Lookup(ctx, "sdz")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	distros, err := m.Backend(model.KindDistros).(model.Lister).List(ctx)
	require.NoError(t, err)
	assert.Len(t, distros, 3)
}
