package api

import (
	"virtgate/internal/model"
	"virtgate/internal/rest"
)

// pick copies the listed keys of info, using nil for absent ones
func pick(info model.Info, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = info[k]
	}
	return out
}

// named is pick with "name" set to the resource identifier
func named(ident string, info model.Info, keys ...string) map[string]any {
	out := pick(info, keys...)
	out["name"] = ident
	return out
}

// withSet copies the listed keys of info into out when they hold a value
func withSet(out map[string]any, info model.Info, keys ...string) map[string]any {
	for _, k := range keys {
		if rest.Truthy(info[k]) {
			out[k] = info[k]
		}
	}
	return out
}

// Resource types
var (
	VM = &rest.ResourceType{
		Kind:         model.KindVM,
		URIFormat:    "/vms/%s",
		UpdateParams: []string{"name"},
		Actions: []rest.Action{
			{Name: "start"},
			{Name: "stop"},
			{Name: "connect"},
		},
		Project: func(ident string, info model.Info) any {
			out := pick(info, "uuid", "stats", "memory", "cpus", "state", "screenshot", "icon")
			graphics, _ := info["graphics"].(map[string]any)
			out["name"] = ident
			out["graphics"] = map[string]any{
				"type": graphics["type"],
				"port": graphics["port"],
			}
			return out
		},
	}

	VMScreenshot = &rest.ResourceType{
		Kind:      model.KindVMScreenshot,
		URIFormat: "/vms/%s/screenshot",
	}

	Template = &rest.ResourceType{
		Kind:      model.KindTemplate,
		URIFormat: "/templates/%s",
		UpdateParams: []string{
			"name", "folder", "icon", "os_distro", "storagepool",
			"os_version", "cpus", "memory", "cdrom", "disks",
		},
		Project: func(ident string, info model.Info) any {
			return named(ident, info, "icon", "os_distro", "os_version", "cpus",
				"memory", "cdrom", "disks", "storagepool", "folder")
		},
	}

	StoragePool = &rest.ResourceType{
		Kind:         model.KindStoragePool,
		URIFormat:    "/storagepools/%s",
		UpdateParams: []string{"autostart"},
		Actions: []rest.Action{
			{Name: "activate"},
			{Name: "deactivate"},
		},
		Project: func(ident string, info model.Info) any {
			out := named(ident, info, "state", "capacity", "allocated", "available",
				"path", "source", "type", "nr_volumes", "autostart")
			return withSet(out, info, "task_id")
		},
	}

	IsoPool = &rest.ResourceType{
		Kind:      model.KindIsoPool,
		URIFormat: "/storagepools/%s",
		Project: func(ident string, info model.Info) any {
			return named(ident, info, "state", "type")
		},
	}

	StorageVolume = &rest.ResourceType{
		Kind:      model.KindStorageVolume,
		URIFormat: "/storagepools/%s/storagevolumes/%s",
		Actions: []rest.Action{
			{Name: "resize", Params: []string{"size"}},
			{Name: "wipe"},
		},
		Project: func(ident string, info model.Info) any {
			out := named(ident, info, "type", "capacity", "allocation", "path", "format")
			return withSet(out, info, "os_version", "os_distro", "bootable")
		},
	}

	Network = &rest.ResourceType{
		Kind:      model.KindNetwork,
		URIFormat: "/networks/%s",
		Actions: []rest.Action{
			{Name: "activate"},
			{Name: "deactivate"},
		},
		Project: func(ident string, info model.Info) any {
			return named(ident, info, "autostart", "connection", "interface", "subnet", "dhcp", "state")
		},
	}

	Interface = &rest.ResourceType{
		Kind:      model.KindInterface,
		URIFormat: "/interfaces/%s",
		Project: func(ident string, info model.Info) any {
			return named(ident, info, "type", "ipaddr", "netmask", "status")
		},
	}

	Task = &rest.ResourceType{
		Kind:      model.KindTask,
		URIFormat: "/tasks/%s",
		Project: func(_ string, info model.Info) any {
			return pick(info, "id", "status", "message")
		},
	}

	DebugReport = &rest.ResourceType{
		Kind:      model.KindDebugReport,
		URIFormat: "/debugreports/%s",
		Project: func(ident string, info model.Info) any {
			return map[string]any{
				"name": ident,
				"file": info["file"],
				"time": info["ctime"],
			}
		},
	}

	DebugReportContent = &rest.ResourceType{
		Kind:      model.KindDebugReportContent,
		URIFormat: "/debugreports/%s/content",
	}

	Config = &rest.ResourceType{
		Kind:      model.KindConfig,
		URIFormat: "/config",
		Project: func(_ string, info model.Info) any {
			return pick(info, "http_port")
		},
	}

	// Capabilities defaults every known capability to null; the model may
	// add more
	Capabilities = &rest.ResourceType{
		Kind:      model.KindCapabilities,
		URIFormat: "/config/capabilities",
		Project: func(_ string, info model.Info) any {
			out := pick(info, "libvirt_stream_protocols", "qemu_stream", "screenshot", "system_report_tool")
			for k, v := range info {
				out[k] = v
			}
			return out
		},
	}

	Distro = &rest.ResourceType{
		Kind:      model.KindDistro,
		URIFormat: "/config/distros/%s",
	}

	Host = &rest.ResourceType{
		Kind:      model.KindHost,
		URIFormat: "/host",
		Actions: []rest.Action{
			{Name: "reboot"},
			{Name: "shutdown"},
		},
	}

	HostStats = &rest.ResourceType{
		Kind:      model.KindHostStats,
		URIFormat: "/host/stats",
	}

	Partition = &rest.ResourceType{
		Kind:      model.KindPartition,
		URIFormat: "/host/partitions/%s",
	}
)

// Collection types
var (
	VMs       = &rest.CollectionType{Kind: model.KindVMs, Member: VM}
	Templates = &rest.CollectionType{Kind: model.KindTemplates, Member: Template}

	// StoragePools creates without schema validation and always lists the
	// ISO pool after the real pools
	StoragePools = &rest.CollectionType{
		Kind:                 model.KindStoragePools,
		Member:               StoragePool,
		SkipCreateValidation: true,
		TaskAware:            true,
		Reserved: []rest.ReservedMember{
			{Type: IsoPool, Args: []string{model.IsoPoolName}},
		},
	}

	StorageVolumes = &rest.CollectionType{Kind: model.KindStorageVolumes, Member: StorageVolume}
	IsoVolumes     = &rest.CollectionType{Kind: model.KindIsoVolumes, Plain: true}
	Networks       = &rest.CollectionType{Kind: model.KindNetworks, Member: Network}
	Interfaces     = &rest.CollectionType{Kind: model.KindInterfaces, Member: Interface}
	Tasks          = &rest.CollectionType{Kind: model.KindTasks, Member: Task}

	DebugReports = &rest.CollectionType{
		Kind:     model.KindDebugReports,
		Member:   DebugReport,
		Async:    true,
		TaskType: Task,
	}

	Distros    = &rest.CollectionType{Kind: model.KindDistros, Member: Distro}
	Partitions = &rest.CollectionType{Kind: model.KindPartitions, Member: Partition}
	Plugins    = &rest.CollectionType{Kind: model.KindPlugins, Plain: true}
)
