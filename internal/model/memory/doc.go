// Package memory is a self-contained virtualization model kept in process
// memory. It backs every resource kind the API exposes so the server can run
// without a hypervisor: VMs, templates, storage pools and volumes, networks,
// host interfaces, distros, partitions, plugins and debug reports.
//
// State lives behind a single lock. Debug reports and ISO pool scans run on
// the shared task queue and write their artifacts under the data directory.
package memory
