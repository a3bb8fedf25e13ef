// Package api declares the virtgate resource types and mounts them on a chi
// router.
//
// Each resource type pairs a model kind with its canonical URI, the body
// keys PUT accepts, its POST actions and the projection that renders model
// info as JSON. Routes wires those types to the rest dispatcher together
// with login, the task event websocket, health probes and metrics.
package api
