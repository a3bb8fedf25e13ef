// Package app wires the virtgate components together and manages their
// lifecycle.
//
// # Initialization Flow
//
//	1. Build the logger from the logging configuration
//	2. Create the data directories
//	3. Initialize OpenTelemetry providers and instruments
//	4. Create the websocket hub, task queue and model
//	5. Create the dispatcher, authenticator and health service
//	6. Apply the middleware chain and mount the API routes
//	7. Create the HTTP server
//
// # Usage
//
//	a, err := app.New(cfg)
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
//
// # Graceful Shutdown
//
// Run stops on SIGINT, SIGTERM or when ctx ends. Stop then drains active
// requests, disconnects websocket clients, fails queued tasks and flushes
// telemetry. The package never calls os.Exit.
package app
