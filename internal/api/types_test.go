package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"virtgate/internal/model"
)

func TestStoragePoolProjection_TaskID(t *testing.T) {
	tests := []struct {
		name   string
		taskID any
		want   bool
	}{
		{"set", "5", true},
		{"empty", "", false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := StoragePool.Project("p1", model.Info{"state": "inactive", "task_id": tt.taskID}).(map[string]any)
			_, ok := out["task_id"]
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, "p1", out["name"])
		})
	}
}

func TestStorageVolumeProjection_OSFields(t *testing.T) {
	out := StorageVolume.Project("f20.iso", model.Info{
		"format":     "iso",
		"os_distro":  "fedora",
		"os_version": "20",
		"bootable":   true,
	}).(map[string]any)
	assert.Equal(t, "fedora", out["os_distro"])
	assert.Equal(t, "20", out["os_version"])
	assert.Equal(t, true, out["bootable"])

	out = StorageVolume.Project("disk1", model.Info{
		"format":    "raw",
		"os_distro": "",
		"bootable":  false,
	}).(map[string]any)
	assert.NotContains(t, out, "os_distro")
	assert.NotContains(t, out, "os_version")
	assert.NotContains(t, out, "bootable")
	assert.Equal(t, "raw", out["format"])
}
