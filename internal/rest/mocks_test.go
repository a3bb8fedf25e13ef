package rest

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
	"virtgate/internal/shared/testutil"
)

// mockModel records calls made through the backend adapters below. Each
// adapter exposes only a subset of capabilities so missing ones can be tested.
type mockModel struct {
	mock.Mock
}

type lookupBackend struct {
	m    *mockModel
	kind model.Kind
}

func (b lookupBackend) Lookup(ctx context.Context, args ...string) (model.Info, error) {
	ret := b.m.Called(b.kind, args)
	info, _ := ret.Get(0).(model.Info)
	return info, ret.Error(1)
}

type resourceBackend struct {
	lookupBackend
	actions []string
}

func (b resourceBackend) Update(ctx context.Context, args []string, params map[string]any) (string, error) {
	ret := b.m.Called(b.kind, args, params)
	return ret.String(0), ret.Error(1)
}

func (b resourceBackend) Delete(ctx context.Context, args ...string) error {
	return b.m.Called(b.kind, args).Error(0)
}

func (b resourceBackend) Action(name string) (model.ActionFunc, bool) {
	for _, a := range b.actions {
		if a == name {
			return func(ctx context.Context, args ...any) error {
				return b.m.MethodCalled("Action", b.kind, name, args).Error(0)
			}, true
		}
	}
	return nil, false
}

type collectionBackend struct {
	m    *mockModel
	kind model.Kind
}

func (b collectionBackend) List(ctx context.Context, args ...string) ([]string, error) {
	ret := b.m.Called(b.kind, args)
	idents, _ := ret.Get(0).([]string)
	return idents, ret.Error(1)
}

func (b collectionBackend) Create(ctx context.Context, args []string, params map[string]any) (string, error) {
	ret := b.m.Called(b.kind, args, params)
	return ret.String(0), ret.Error(1)
}

type listOnlyBackend struct {
	m    *mockModel
	kind model.Kind
}

func (b listOnlyBackend) List(ctx context.Context, args ...string) ([]string, error) {
	ret := b.m.Called(b.kind, args)
	idents, _ := ret.Get(0).([]string)
	return idents, ret.Error(1)
}

type taskBackend struct {
	m    *mockModel
	kind model.Kind
}

func (b taskBackend) CreateTask(ctx context.Context, args []string, params map[string]any) (model.Info, error) {
	ret := b.m.Called(b.kind, args, params)
	info, _ := ret.Get(0).(model.Info)
	return info, ret.Error(1)
}

type enumBackend []any

func (e enumBackend) Enumerate(ctx context.Context, args ...string) ([]any, error) {
	return e, nil
}

type stubValidator struct {
	failures map[string]string
	seen     []string
}

func (v *stubValidator) Validate(operation string, params map[string]any) error {
	v.seen = append(v.seen, operation)
	if msg, ok := v.failures[operation]; ok {
		return apperrors.NewInvalidParameter(msg)
	}
	return nil
}

var (
	testVM = &ResourceType{
		Kind:         model.KindVM,
		URIFormat:    "/vms/%s",
		UpdateParams: []string{"name"},
		Actions:      []Action{{Name: "start"}},
		Project: func(ident string, info model.Info) any {
			return map[string]any{"name": ident, "state": info["state"]}
		},
	}
	testVMs = &CollectionType{Kind: model.KindVMs, Member: testVM}

	testTemplate = &ResourceType{
		Kind:         model.KindTemplate,
		URIFormat:    "/templates/%s",
		UpdateParams: []string{"name", "memory", "cpus"},
	}

	testPool = &ResourceType{
		Kind:         model.KindStoragePool,
		URIFormat:    "/storagepools/%s",
		UpdateParams: []string{"autostart"},
	}
	testIsoPool = &ResourceType{
		Kind:      model.KindIsoPool,
		URIFormat: "/storagepools/%s",
		Project: func(ident string, info model.Info) any {
			return map[string]any{"name": ident, "state": info["state"]}
		},
	}
	testPools = &CollectionType{
		Kind:                 model.KindStoragePools,
		Member:               testPool,
		SkipCreateValidation: true,
		TaskAware:            true,
		Reserved:             []ReservedMember{{Type: testIsoPool, Args: []string{model.IsoPoolName}}},
	}

	testVolume = &ResourceType{
		Kind:      model.KindStorageVolume,
		URIFormat: "/storagepools/%s/storagevolumes/%s",
		Actions:   []Action{{Name: "resize", Params: []string{"size"}}, {Name: "wipe"}},
	}
	testVolumes = &CollectionType{Kind: model.KindStorageVolumes, Member: testVolume}

	testTask = &ResourceType{
		Kind:      model.KindTask,
		URIFormat: "/tasks/%s",
		Project: func(ident string, info model.Info) any {
			return map[string]any{"id": ident, "status": info["status"], "message": info["message"]}
		},
	}
	testReports = &CollectionType{Kind: model.KindDebugReports, Async: true, TaskType: testTask}

	testPlugins = &CollectionType{Kind: model.KindPlugins, Plain: true}
)

func newTestDispatcher(t *testing.T, m model.Model, opts ...Option) (*Dispatcher, *testutil.BufferedSlogHandler) {
	t.Helper()
	logger, handler := testutil.NewTestLogger(t)
	return NewDispatcher(m, apperrors.NewErrorHandler(logger, false), logger, opts...), handler
}

// newTestRouter mounts the test types the way the api package does
func newTestRouter(d *Dispatcher) http.Handler {
	r := chi.NewRouter()
	r.Handle("/vms", d.CollectionHandler(testVMs, Static()))
	r.Handle("/vms/{name}", d.ResourceHandler(testVM, Params("name")))
	r.Handle("/vms/{name}/start", d.ActionHandler(testVM, testVM.Actions[0], Params("name")))
	r.Handle("/templates/{name}", d.ResourceHandler(testTemplate, Params("name")))
	r.Handle("/storagepools", d.CollectionHandler(testPools, Static()))
	r.Handle("/storagepools/{pool}", d.ResourceHandler(testPool, Params("pool")))
	r.Handle("/storagepools/{pool}/storagevolumes", d.CollectionHandler(testVolumes, Params("pool")))
	r.Handle("/storagepools/{pool}/storagevolumes/{vol}", d.ResourceHandler(testVolume, Params("pool", "vol")))
	for _, a := range testVolume.Actions {
		r.Handle("/storagepools/{pool}/storagevolumes/{vol}/"+a.Name, d.ActionHandler(testVolume, a, Params("pool", "vol")))
	}
	r.Handle("/debugreports", d.CollectionHandler(testReports, Static()))
	r.Handle("/plugins", d.CollectionHandler(testPlugins, Static()))
	return r
}

