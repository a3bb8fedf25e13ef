// Package tasks runs long model operations in the background.
//
// A Task is created in the running state with the message "OK" and moves to
// finished or failed exactly once. Tasks are executed by a fixed pool of
// workers fed from a bounded queue; a full queue rejects new work instead of
// blocking the request that submitted it. Every status change is stored and
// then handed to the optional Broadcaster.
package tasks
