//go:build ignore

// build.go - authctl build script
// Usage: go run build.go [-target=TARGET] [-v]
// Targets: build, test, clean, release

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	version = "1.0.0"
	module  = "licensecli"
)

var (
	rootDir string
	distDir string

	releasePlatforms = []string{"linux/amd64", "linux/arm64", "darwin/arm64", "windows/amd64"}

	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
)

func init() {
	cwd, err := os.Getwd()
	if err != nil {
		panic(fmt.Sprintf("Failed to get current directory: %v", err))
	}
	rootDir = cwd
	distDir = filepath.Join(rootDir, "dist")

	if _, err := os.Stat(filepath.Join(rootDir, "go.mod")); err != nil {
		panic("build.go must be run from the module root")
	}
}

func main() {
	target := flag.String("target", "build", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	printHeader()
	start := time.Now()

	switch *target {
	case "build":
		buildBinary(runtime.GOOS, runtime.GOARCH, *verbose)
	case "test":
		runTests(*verbose)
	case "clean":
		clean()
	case "release":
		buildRelease(*verbose)
	default:
		showHelp()
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Done in %s", time.Since(start).Round(time.Millisecond)))
}

func printHeader() {
	fmt.Println(colorCyan + "=====================================" + colorReset)
	fmt.Println(colorCyan + "      authctl - Build System         " + colorReset)
	fmt.Println(colorCyan + "=====================================" + colorReset)
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

func binaryName(goos, goarch string) string {
	name := fmt.Sprintf("authctl-%s-%s", goos, goarch)
	if goos == "windows" {
		name += ".exe"
	}
	return name
}

func buildBinary(goos, goarch string, verbose bool) {
	out := filepath.Join(distDir, binaryName(goos, goarch))
	printInfo(fmt.Sprintf("Building %s...", filepath.Base(out)))

	// ServiceVersion is reported by /healthz and the telemetry resource.
	ldflags := fmt.Sprintf("-s -w -X %s/internal/infrastructure.ServiceVersion=%s", module, version)

	args := []string{"build", "-trimpath", "-ldflags", ldflags, "-o", out, "./cmd/authctl"}
	if verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
	}

	cmd := exec.Command("go", args...)
	cmd.Dir = rootDir
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOOS="+goos, "GOARCH="+goarch)
	cmd.Stderr = os.Stderr
	if verbose {
		fmt.Printf("go %s\n", strings.Join(args, " "))
		cmd.Stdout = os.Stdout
	}

	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Failed to build %s: %v", out, err))
		os.Exit(1)
	}

	if info, err := os.Stat(out); err == nil {
		printSuccess(fmt.Sprintf("Built %s (%.1f MB)", filepath.Base(out), float64(info.Size())/1024/1024))
	}
}

func runTests(verbose bool) {
	printInfo("Running Go tests...")
	args := []string{"test", "-race"}
	if verbose {
		args = append(args, "-v")
	}
	args = append(args, "./...")

	cmd := exec.Command("go", args...)
	cmd.Dir = rootDir
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
		printError(fmt.Sprintf("Failed to clean dist directory: %v", err))
		os.Exit(1)
	}
	printSuccess("Build artifacts cleaned")
}

func buildRelease(verbose bool) {
	printInfo("Building release binaries...")
	clean()
	if err := os.MkdirAll(distDir, 0o755); err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	for _, platform := range releasePlatforms {
		goos, goarch, _ := strings.Cut(platform, "/")
		buildBinary(goos, goarch, verbose)
	}

	versionFile := filepath.Join(distDir, "VERSION.txt")
	content := fmt.Sprintf("authctl v%s\nBuilt: %s\n", version, time.Now().Format("2006-01-02 15:04:05"))
	if err := os.WriteFile(versionFile, []byte(content), 0o644); err != nil {
		printError(fmt.Sprintf("Failed to write %s: %v", versionFile, err))
	}
	printSuccess("Release build completed")
}

func showHelp() {
	fmt.Println("Usage: go run build.go [-target=TARGET] [-v]")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  build     Build authctl for this platform (default)")
	fmt.Println("  test      Run all tests with the race detector")
	fmt.Println("  clean     Remove dist/")
	fmt.Println("  release   Cross-compile release binaries into dist/")
}
