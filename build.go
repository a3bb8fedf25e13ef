//go:build ignore

// build.go - virtgate build system
// Usage: go run build.go [-target=TARGET]
// Targets: build, test, clean, release, config

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	version = "0.1.0"
	module  = "virtgate"
	appPkg  = module + "/internal/app"
)

// BuildContext holds configuration for the build process
type BuildContext struct {
	Verbose bool
	GOOS    string
	GOARCH  string
}

var (
	distDir = "dist"

	// release platforms as GOOS/GOARCH
	releaseTargets = []string{"linux/amd64", "linux/arm64"}

	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
)

func main() {
	target := flag.String("target", "build", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	printHeader()
	startTime := time.Now()

	ctx := &BuildContext{Verbose: *verbose}

	switch *target {
	case "build":
		buildExecutable(ctx)
	case "test":
		runTests(ctx)
	case "clean":
		clean()
	case "release":
		buildRelease(ctx)
	case "config":
		writeSampleConfig()
	default:
		printError(fmt.Sprintf("Unknown target: %s", *target))
		fmt.Println("Targets: build, test, clean, release, config")
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Build completed in %s", time.Since(startTime).Round(time.Millisecond)))
}

func printHeader() {
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println(colorCyan + "          virtgate - Build System          " + colorReset)
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println()
}

func printInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", colorBlue, colorReset, msg)
}

func printSuccess(msg string) {
	fmt.Printf("%s[SUCCESS]%s %s\n", colorGreen, colorReset, msg)
}

func printError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}

func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "none"
	}
	return strings.TrimSpace(string(out))
}

func buildExecutable(ctx *BuildContext) {
	name := module
	if ctx.GOOS != "" {
		name = fmt.Sprintf("%s-%s-%s", module, ctx.GOOS, ctx.GOARCH)
	}
	outputPath := filepath.Join(distDir, name)
	printInfo(fmt.Sprintf("Building %s...", name))

	ldflags := fmt.Sprintf("-s -w -X %s.Version=%s -X %s.Commit=%s -X %s.BuildTime=%s",
		appPkg, version, appPkg, gitCommit(), appPkg, time.Now().UTC().Format(time.RFC3339))

	args := []string{"build", "-trimpath", "-ldflags", ldflags, "-o", outputPath, "./cmd/virtgate"}
	if ctx.Verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
	}

	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if ctx.GOOS != "" {
		cmd.Env = append(cmd.Env, "GOOS="+ctx.GOOS, "GOARCH="+ctx.GOARCH)
	}
	cmd.Stderr = os.Stderr
	if ctx.Verbose {
		fmt.Printf("Running: go %s\n", strings.Join(args, " "))
		cmd.Stdout = os.Stdout
	}

	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Failed to build %s: %v", name, err))
		os.Exit(1)
	}

	if info, err := os.Stat(outputPath); err == nil {
		printSuccess(fmt.Sprintf("Built %s (%.1f MB)", outputPath, float64(info.Size())/1024/1024))
	}
}

func runTests(ctx *BuildContext) {
	printInfo("Running Go tests...")
	args := []string{"test", "-race"}
	if ctx.Verbose {
		args = append(args, "-v")
	}
	args = append(args, "./...")

	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Go tests failed: %v", err))
		os.Exit(1)
	}
	printSuccess("All tests passed")
}

func clean() {
	printInfo("Cleaning build artifacts...")
	if err := os.RemoveAll(distDir); err != nil {
		printError(fmt.Sprintf("Failed to clean %s: %v", distDir, err))
		os.Exit(1)
	}
	printSuccess("Build artifacts cleaned")
}

func buildRelease(ctx *BuildContext) {
	printInfo("Building release version...")
	clean()

	for _, t := range releaseTargets {
		goos, goarch, _ := strings.Cut(t, "/")
		buildExecutable(&BuildContext{Verbose: ctx.Verbose, GOOS: goos, GOARCH: goarch})
	}

	content := fmt.Sprintf("virtgate v%s\nCommit: %s\nBuilt: %s\n",
		version, gitCommit(), time.Now().UTC().Format("2006-01-02 15:04:05"))
	if err := os.WriteFile(filepath.Join(distDir, "VERSION.txt"), []byte(content), 0o644); err != nil {
		printError(fmt.Sprintf("Failed to write VERSION.txt: %v", err))
		os.Exit(1)
	}
	writeSampleConfig()
	printSuccess("Release build completed")
}

// writeSampleConfig drops a starter virtgate.yaml next to the binaries
func writeSampleConfig() {
	if err := os.MkdirAll(distDir, 0o755); err != nil {
		printError(fmt.Sprintf("Failed to create %s: %v", distDir, err))
		os.Exit(1)
	}
	sample := `server:
  port: 8000
  request_timeout: 60s
security:
  allowed_origins: ["http://localhost:8000"]
  enable_cors: true
  rate_limit:
    enabled: true
    rps: 100
    burst: 50
logging:
  level: info
  output: console
schema:
  enabled: true
auth:
  enabled: false
  users: {}
tasks:
  workers: 2
  queue_size: 32
telemetry:
  trace_exporter: none
  metric_exporter: prometheus
paths:
  data_dir: data
`
	path := filepath.Join(distDir, "virtgate.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		printError(fmt.Sprintf("Failed to write %s: %v", path, err))
		os.Exit(1)
	}
	printInfo("Wrote " + path)
}
