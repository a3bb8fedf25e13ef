// Package shared holds helpers used across virtgate packages that belong to
// no single layer.
//
// The testutil subpackage provides a buffered slog handler so tests can
// assert on log records:
//
//	logger, handler := testutil.NewTestLogger(t)
//	svc := services.NewHealthService(build, dir, nil, logger)
//	svc.ReadinessCheck(ctx)
//	testutil.AssertLogContains(t, handler, slog.LevelWarn, "service not ready")
package shared
