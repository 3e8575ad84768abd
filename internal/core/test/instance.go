//
//  Copyright © Manetu Inc. All rights reserved.
//

package test

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/manetu/toolgate/internal/core/accesslog"
	"github.com/manetu/toolgate/pkg/core"
	pkgaccesslog "github.com/manetu/toolgate/pkg/core/accesslog"
	"github.com/manetu/toolgate/pkg/core/clock"
	"github.com/manetu/toolgate/pkg/core/config"
	"github.com/manetu/toolgate/pkg/core/options"
	"github.com/prometheus/client_golang/prometheus"
)

// TestConfigFilename is the name of the test configuration file (without extension).
const TestConfigFilename = "tgate-config"

// Now is the instant test engines evaluate at: a Wednesday inside default business hours.
var Now = time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)

// GetTestdataPath returns the absolute path to the testdata directory.
// This uses runtime.Caller to locate the source file and compute the path
// relative to it, ensuring tests work regardless of the working directory.
func GetTestdataPath() string {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		// Fallback to relative path if runtime.Caller fails
		return "testdata"
	}
	// thisFile is internal/core/test/instance.go
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(thisFile))))
	return filepath.Join(projectRoot, "testdata")
}

// SetupTestConfig points configuration at the testdata directory and reloads it, so tests see the same
// settings regardless of the user's environment.
func SetupTestConfig() error {
	if err := os.Setenv(config.ConfigPathEnv, GetTestdataPath()); err != nil {
		return err
	}
	if err := os.Setenv(config.ConfigFileNameEnv, TestConfigFilename); err != nil {
		return err
	}
	config.ResetConfig()
	return nil
}

// NewTestPolicyEngine instantiates an engine suitable for unit-testing.  Access records arrive on the returned
// channel, the clock is fixed at [Now] and metrics go to a private registry.  Later options override these.
func NewTestPolicyEngine(depth int, opts ...options.EngineOptionsFunc) (core.PolicyEngine, chan *pkgaccesslog.AccessRecord, error) {
	if err := SetupTestConfig(); err != nil {
		return nil, nil, err
	}

	ch := make(chan *pkgaccesslog.AccessRecord, depth)
	defaults := []options.EngineOptionsFunc{
		options.WithAccessLog(accesslog.NewChannelLogger(ch)),
		options.WithClock(clock.At(Now)),
		options.WithMetrics(prometheus.NewRegistry()),
	}
	engine, err := core.NewPolicyEngine(append(defaults, opts...)...)
	if err != nil {
		return nil, nil, err
	}

	return engine, ch, nil
}
