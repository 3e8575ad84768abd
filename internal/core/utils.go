//
//  Copyright © Manetu Inc. All rights reserved.
//

package core

import (
	"github.com/manetu/toolgate/pkg/common"
	"github.com/manetu/toolgate/pkg/core/cache"
	"github.com/manetu/toolgate/pkg/core/clock"
	"github.com/manetu/toolgate/pkg/core/config"
	"github.com/manetu/toolgate/pkg/core/metrics"
	"github.com/manetu/toolgate/pkg/core/opa"
	"github.com/manetu/toolgate/pkg/core/policyconfig"
	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/pkg/errors"
)

func getUnsafeBuiltins() opa.Builtins {
	return opa.ParseBuiltins(config.VConfig.GetString(config.UnsafeBuiltIns))
}

// newSource builds the policy source named by policy.path, watching it when policy.watch is set.  An empty
// path selects the built-in defaults.
func newSource(compilerOptions []opa.CompilerOptionFunc, m *metrics.Metrics) (policyconfig.Source, error) {
	path := config.VConfig.GetString(config.PolicyPath)
	if path == "" {
		p, err := policyconfig.Compile(policyconfig.Default(), compilerOptions...)
		if err != nil {
			return nil, err
		}
		return policyconfig.Static(p), nil
	}

	if !config.VConfig.GetBool(config.PolicyWatch) {
		p, err := policyconfig.LoadFile(path, compilerOptions...)
		if err != nil {
			return nil, errors.Wrapf(err, "error loading policy %s", path)
		}
		return policyconfig.Static(p), nil
	}

	w, err := policyconfig.NewWatcher(path,
		policyconfig.WithCompilerOptions(compilerOptions...),
		policyconfig.WithReloadHook(func(_ *policyconfig.Policy, err error) {
			m.Reload(err)
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "error watching policy %s", path)
	}
	return w, nil
}

// newStore builds the decision cache store selected by cache.store.
func newStore(c clock.Clock) (cache.Store, error) {
	switch kind := config.VConfig.GetString(config.CacheStore); kind {
	case config.CacheStoreNone:
		return cache.NullStore{}, nil
	case config.CacheStoreMemory, "":
		return cache.NewMemoryStore(c), nil
	case config.CacheStoreRedis:
		client := cache.NewRedisClient(cache.RedisOptions{
			Addr:         config.VConfig.GetString(config.RedisAddr),
			Password:     config.VConfig.GetString(config.RedisPassword),
			DB:           config.VConfig.GetInt(config.RedisDB),
			DialTimeout:  config.VConfig.GetDuration(config.RedisDialTimeout),
			ReadTimeout:  config.VConfig.GetDuration(config.RedisReadTimeout),
			WriteTimeout: config.VConfig.GetDuration(config.RedisWriteTimeout),
			PoolSize:     config.VConfig.GetInt(config.RedisPoolSize),
		})
		return cache.NewRedisStore(client), nil
	default:
		return nil, common.Errorf(common.ConfigError, "unknown cache store %q", kind)
	}
}

// workHoursCompliant reports whether the instant meets the business-hours requirement implied by level.
func workHoursCompliant(level types.Sensitivity, inHours, inDay bool) bool {
	switch {
	case level >= types.SensitivityCritical:
		return inHours && inDay
	case level == types.SensitivityHigh:
		return inHours
	default:
		return true
	}
}
