// Package model defines the contract between the REST dispatch layer and the
// virtualization model layer.
//
// A model exposes one backend per resource Kind. The dispatch layer never
// calls a backend directly; it asserts the capability interfaces below and
// treats a missing capability as "operation not supported" for that kind.
// Backends are expected to return *errors.AppError values from
// virtgate/internal/errors so failures map to the right HTTP status.
package model

import "context"

// Kind names a resource type in the model layer. Collections and their
// members use distinct kinds, e.g. KindVMs lists and creates while KindVM
// looks up, updates and deletes.
type Kind string

const (
	KindVMs                Kind = "vms"
	KindVM                 Kind = "vm"
	KindVMScreenshot       Kind = "vmscreenshot"
	KindTemplates          Kind = "templates"
	KindTemplate           Kind = "template"
	KindStoragePools       Kind = "storagepools"
	KindStoragePool        Kind = "storagepool"
	KindIsoPool            Kind = "isopool"
	KindIsoVolumes         Kind = "isovolumes"
	KindStorageVolumes     Kind = "storagevolumes"
	KindStorageVolume      Kind = "storagevolume"
	KindNetworks           Kind = "networks"
	KindNetwork            Kind = "network"
	KindInterfaces         Kind = "interfaces"
	KindInterface          Kind = "interface"
	KindTasks              Kind = "tasks"
	KindTask               Kind = "task"
	KindDebugReports       Kind = "debugreports"
	KindDebugReport        Kind = "debugreport"
	KindDebugReportContent Kind = "debugreportcontent"
	KindConfig             Kind = "config"
	KindCapabilities       Kind = "capabilities"
	KindDistros            Kind = "distros"
	KindDistro             Kind = "distro"
	KindHost               Kind = "host"
	KindHostStats          Kind = "hoststats"
	KindPartitions         Kind = "partitions"
	KindPartition          Kind = "partition"
	KindPlugins            Kind = "plugins"
)

// IsoPoolName is the identifier of the reserved pool holding ISO images
const IsoPoolName = "isos"

// Info is the attribute map a backend returns for one resource
type Info map[string]any

// Model resolves the backend serving a kind. A nil result means the kind
// supports no operation at all.
type Model interface {
	Backend(kind Kind) any
}

// Registry is a Model backed by a static map
type Registry map[Kind]any

// Backend implements Model
func (r Registry) Backend(kind Kind) any {
	return r[kind]
}

// Lookuper fetches the attributes of one resource addressed by args
type Lookuper interface {
	Lookup(ctx context.Context, args ...string) (Info, error)
}

// Lister returns the identifiers of a collection's members, in the order
// they should be presented
type Lister interface {
	List(ctx context.Context, args ...string) ([]string, error)
}

// Enumerator returns a plain listing whose entries are rendered as-is,
// without a per-member lookup
type Enumerator interface {
	Enumerate(ctx context.Context, args ...string) ([]any, error)
}

// Creator creates a member and returns its identifier. args address the
// parent collection.
type Creator interface {
	Create(ctx context.Context, args []string, params map[string]any) (string, error)
}

// TaskCreator starts an asynchronous creation and returns the task info
// (id, status, message)
type TaskCreator interface {
	CreateTask(ctx context.Context, args []string, params map[string]any) (Info, error)
}

// Updater applies params to the resource addressed by args and returns its
// identifier afterwards. The last element of args is the current identifier.
type Updater interface {
	Update(ctx context.Context, args []string, params map[string]any) (string, error)
}

// Deleter removes the resource addressed by args
type Deleter interface {
	Delete(ctx context.Context, args ...string) error
}

// ActionFunc performs a named action. args holds the resource address
// followed by the declared action parameters in order.
type ActionFunc func(ctx context.Context, args ...any) error

// Actioner resolves named actions of a resource kind
type Actioner interface {
	Action(name string) (ActionFunc, bool)
}

// Actions is a convenience Actioner backed by a map
type Actions map[string]ActionFunc

// Action implements Actioner
func (a Actions) Action(name string) (ActionFunc, bool) {
	fn, ok := a[name]
	return fn, ok
}
