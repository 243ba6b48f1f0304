package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// testrunner executes test binaries built with `go test -c` inside the
// release image. Database-backed packages run only when DATABASE_URL is set;
// otherwise every binary runs with -test.short.
func main() {
	var (
		testsDir         string
		shortFlag        bool
		pkgParallel      int
		count            int
		integrationRun   string
		integrationPaths string
		verbose          bool
	)

	flag.StringVar(&testsDir, "tests-dir", envOr("TESTS_DIR", "/app/tests"), "directory containing compiled test binaries")
	flag.BoolVar(&shortFlag, "short", os.Getenv("DATABASE_URL") == "", "run tests with -test.short (default when DATABASE_URL is unset)")
	flag.IntVar(&pkgParallel, "pkg-parallel", runtime.NumCPU(), "number of packages to run in parallel")
	flag.IntVar(&count, "count", 1, "pass -test.count to disable caching when set to 1")
	flag.StringVar(&integrationRun, "integration-run", "", "regex of integration test(s) to run with -test.run")
	flag.StringVar(&integrationPaths, "integration-path", "", "comma-separated package paths like 'api/router,api/services/stripe/db' for the integration pass")
	flag.BoolVar(&verbose, "v", true, "add -test.v to test binaries")
	flag.Parse()

	bins, err := collectTestBinaries(testsDir)
	if err != nil {
		fatal(err)
	}
	if len(bins) == 0 {
		fatal(errors.New("no test binaries found"))
	}

	integrationBins, err := resolveIntegrationBinaries(testsDir, integrationRun, integrationPaths)
	if err != nil {
		fatal(err)
	}

	// Integration packages are excluded from the unit pass to avoid double-running.
	unitBins := make([]string, 0, len(bins))
	for _, b := range bins {
		if !containsFile(integrationBins, b) {
			unitBins = append(unitBins, b)
		}
	}

	fmt.Println("==> Running unit tests")
	if err := runBinaries(unitBins, testArgs(verbose, shortFlag, count, 0), pkgParallel); err != nil {
		fatal(err)
	}

	if len(integrationBins) > 0 {
		fmt.Printf("==> Running integration tests in %s with -test.run=%s\n", integrationPaths, integrationRun)
		// one package at a time: they share the database and the Stripe test account
		args := testArgs(verbose, false, count, 1)
		args = append(args, "-test.run", integrationRun)
		if err := runBinaries(integrationBins, args, 1); err != nil {
			fatal(err)
		}
	}

	fmt.Println("==> All tests passed")
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func resolveIntegrationBinaries(testsDir, run, paths string) ([]string, error) {
	if run == "" {
		return nil, nil
	}
	if strings.TrimSpace(paths) == "" {
		return nil, errors.New("integration-path is required when integration-run is set")
	}
	var bins []string
	for _, p := range strings.Split(paths, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		bin := filepath.Join(testsDir, filepath.FromSlash(p)+".test")
		if _, err := os.Stat(bin); err != nil {
			return nil, fmt.Errorf("integration binary not found at %s: %w", bin, err)
		}
		bins = append(bins, bin)
	}
	return bins, nil
}

func collectTestBinaries(root string) ([]string, error) {
	var bins []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".test") {
			bins = append(bins, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(bins)
	return bins, nil
}

func testArgs(verbose, short bool, count, testParallel int) []string {
	var args []string
	if verbose {
		args = append(args, "-test.v")
	}
	if short {
		args = append(args, "-test.short")
	}
	if count > 0 {
		args = append(args, fmt.Sprintf("-test.count=%d", count))
	}
	if testParallel > 0 {
		args = append(args, fmt.Sprintf("-test.parallel=%d", testParallel))
	}
	return args
}

func runBinaries(bins []string, args []string, parallel int) error {
	if len(bins) == 0 {
		return nil
	}
	if parallel < 1 {
		parallel = 1
	}
	sem := make(chan struct{}, parallel)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, b := range bins {
		b := b
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			cmd := exec.Command(b, args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			cmd.Env = os.Environ()
			cmd.Dir = workDir(b)
			fmt.Printf("[RUN] %s %s\n", b, strings.Join(args, " "))
			if err := cmd.Run(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s failed: %w", b, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// workDir runs a binary next to its package sources when they ship with it,
// so relative fixtures and .env lookups resolve.
func workDir(bin string) string {
	if wd := strings.TrimSuffix(bin, ".test"); wd != bin {
		if fi, err := os.Stat(wd); err == nil && fi.IsDir() {
			return wd
		}
	}
	return "/app"
}

func containsFile(list []string, path string) bool {
	for _, p := range list {
		if sameFile(p, path) {
			return true
		}
	}
	return false
}

func sameFile(a, b string) bool {
	ap, _ := filepath.Abs(a)
	bp, _ := filepath.Abs(b)
	return ap == bp
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
