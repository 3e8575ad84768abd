//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package config provides process configuration for the toolgate engine
// using [Viper].
//
// Configuration can be provided via:
//   - a YAML configuration file
//   - environment variables with the TGATE_ prefix
//   - programmatic defaults
//
// # Configuration File
//
// By default, the engine looks for tgate-config.yaml in the current directory.
// Override the location using environment variables:
//
//	TGATE_CONFIG_PATH=/etc/toolgate
//	TGATE_CONFIG_FILENAME=production-config
//
// Example configuration file:
//
//	log:
//	  level: ".:info;toolgate.cache:debug"
//	policy:
//	  path: /etc/toolgate/policy.yaml
//	  watch: true
//	cache:
//	  store: redis
//	  timeout: 50ms
//	redis:
//	  addr: redis:6379
//	audit:
//	  env:
//	    pod: HOSTNAME
//
// # Environment Variables
//
// Every key can be set from the environment with the TGATE_ prefix; dots
// become underscores:
//
//	TGATE_LOG_LEVEL=.:debug
//	TGATE_CACHE_STORE=none
//	TGATE_REDIS_ADDR=10.0.0.5:6379
//
// [Viper]: https://github.com/spf13/viper
package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/manetu/toolgate/internal/logging"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Environment variable and default path constants for configuration loading.
const (
	// EnvVarPrefix is the prefix for all toolgate environment variables.
	// For example, the key "log.level" becomes TGATE_LOG_LEVEL.
	EnvVarPrefix string = "TGATE"

	// ConfigPathEnv is the environment variable that specifies the directory
	// containing the configuration file.
	ConfigPathEnv string = "TGATE_CONFIG_PATH"

	// ConfigFileNameEnv is the environment variable that specifies the
	// configuration file name (without extension).
	ConfigFileNameEnv string = "TGATE_CONFIG_FILENAME"

	// ConfigDefaultPath is the default directory to search for config files.
	ConfigDefaultPath string = "."

	// ConfigDefaultFilename is the default configuration file name (without extension).
	ConfigDefaultFilename string = "tgate-config"
)

// Cache store selectors accepted by [CacheStore].
const (
	CacheStoreNone   = "none"
	CacheStoreMemory = "memory"
	CacheStoreRedis  = "redis"
)

// Configuration key constants for use with [VConfig].
const (
	logLevel string = "log.level"

	// PolicyPath names the PolicyConfig YAML file.  Empty selects the
	// built-in defaults.
	PolicyPath string = "policy.path"

	// PolicyWatch enables hot reload of [PolicyPath].
	PolicyWatch string = "policy.watch"

	// CacheStore selects the decision cache backend: none, memory or redis.
	CacheStore string = "cache.store"

	// CacheTimeout bounds every decision cache round trip.
	CacheTimeout string = "cache.timeout"

	RedisAddr         string = "redis.addr"
	RedisPassword     string = "redis.password"
	RedisDB           string = "redis.db"
	RedisDialTimeout  string = "redis.dialtimeout"
	RedisReadTimeout  string = "redis.readtimeout"
	RedisWriteTimeout string = "redis.writetimeout"
	RedisPoolSize     string = "redis.poolsize"

	// UnsafeBuiltIns is a comma-separated list of Rego built-in function names
	// removed from the capabilities available to extension rules.
	//
	// Default: "http.send"
	UnsafeBuiltIns string = "opa.unsafebuiltins"

	// AuditEnv defines a mapping from access log metadata keys to environment
	// variable names.
	//
	//	audit:
	//	  env:
	//	    pod: HOSTNAME
	//	    region: AWS_REGION
	AuditEnv string = "audit.env"

	// AuditPodinfo is the directory of a Kubernetes Downward API volume.  When
	// its labels file exists, each label is added to access record metadata.
	AuditPodinfo string = "audit.podinfo"
)

var (
	once     sync.Once
	loadOnce sync.Once
	loadErr  error

	// VConfig is the global Viper configuration instance for the engine.
	//
	//	if config.VConfig.GetBool(config.PolicyWatch) {
	//	    // hot reload enabled
	//	}
	//
	// VConfig is initialized automatically when [Load] or [Init] is called.
	VConfig *viper.Viper
	logger  = logging.GetLogger("toolgate.config")
)

// Init initializes the configuration system without loading config files.
// It is safe to call multiple times; subsequent calls are no-ops.
func Init() {
	once.Do(func() {
		doInitialize()
	})
}

func getConfigPath() string {
	configPath, ok := os.LookupEnv(ConfigPathEnv)
	if ok {
		return configPath
	}

	return ConfigDefaultPath
}

func getConfigFileName() string {
	configName, ok := os.LookupEnv(ConfigFileNameEnv)
	if ok {
		return configName
	}

	return ConfigDefaultFilename
}

func doInitialize() {
	VConfig = viper.New()

	// default is './tgate-config.yaml' but can be overridden with $(TGATE_CONFIG_PATH)/$(TGATE_CONFIG_FILENAME).yaml
	VConfig.AddConfigPath(getConfigPath())
	VConfig.SetConfigName(getConfigFileName())
	VConfig.SetConfigType("yaml")

	// keys such as 'cache.store' become 'TGATE_CACHE_STORE'
	VConfig.SetEnvPrefix(EnvVarPrefix)
	VConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	VConfig.AutomaticEnv()

	VConfig.SetDefault(logLevel, ".:info")
	VConfig.SetDefault(PolicyPath, "")
	VConfig.SetDefault(PolicyWatch, false)
	VConfig.SetDefault(CacheStore, CacheStoreMemory)
	VConfig.SetDefault(CacheTimeout, 50*time.Millisecond)
	VConfig.SetDefault(RedisAddr, "localhost:6379")
	VConfig.SetDefault(RedisPassword, "")
	VConfig.SetDefault(RedisDB, 0)
	VConfig.SetDefault(RedisDialTimeout, 2*time.Second)
	VConfig.SetDefault(RedisReadTimeout, 500*time.Millisecond)
	VConfig.SetDefault(RedisWriteTimeout, 500*time.Millisecond)
	VConfig.SetDefault(RedisPoolSize, 10)
	VConfig.SetDefault(UnsafeBuiltIns, "http.send")
	VConfig.SetDefault(AuditPodinfo, "/etc/podinfo")
}

// Load initializes configuration and loads settings from files and environment.
//
// A missing configuration file is not an error.  Load is safe to call
// concurrently; calls after the first are no-ops that return the first result.
func Load() error {
	loadOnce.Do(func() {
		Init()

		// Early log level update from environment variable allows us to debug the config loading.
		earlyLoglevel := os.Getenv("TGATE_LOG_LEVEL")
		if earlyLoglevel != "" {
			if err := logging.UpdateLogLevels(earlyLoglevel); err != nil {
				logger.SysErrorf("Failed updating early log level %s: %+v", earlyLoglevel, err)
				loadErr = err
				return
			}
		}

		logger.SysDebugf("Loading configuration from %s/%s.yaml", getConfigPath(), getConfigFileName())
		err := VConfig.ReadInConfig()
		if err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				logger.SysWarnf("error reading config; using defaults: %+v", err)
			}
			logger.SysDebugf("No config file found at %s/%s.yaml", getConfigPath(), getConfigFileName())
		}

		loglevel := VConfig.GetString(logLevel)
		if err := logging.UpdateLogLevels(loglevel); err != nil {
			logger.SysErrorf("Failed updating log level %s: %+v", loglevel, err)
			loadErr = err
			return
		}

		if logger.IsDebugEnabled() {
			VConfig.DebugTo(logger.Out())
		}
	})

	return loadErr
}

// ResetConfig clears all configuration and reinitializes with defaults.
//
// WARNING: intended for testing only.  It resets global state without
// synchronization.
func ResetConfig() {
	VConfig = nil
	once = sync.Once{}
	loadOnce = sync.Once{}
	loadErr = nil
	resetPodinfo()
	Init()
	// ignore any reset errors
	_ = Load()
}

// GetAuditEnv returns resolved audit metadata for access log records.
//
// Each audit.env entry maps a metadata key to an environment variable whose
// current value is reported.  Unset variables yield empty strings.  Labels
// found in the [AuditPodinfo] directory are added as "label.<name>" unless an
// audit.env entry already claims the key.
func GetAuditEnv() map[string]string {
	result := make(map[string]string)

	for key, value := range podLabels() {
		result["label."+key] = value
	}

	for key, envVarName := range VConfig.GetStringMapString(AuditEnv) {
		result[key] = os.Getenv(envVarName)
	}

	return result
}
