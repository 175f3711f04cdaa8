/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables read by LoadConfig, e.g.
// DATAKIT_CONNECTION_CONFIG_HOST.
const EnvPrefix = "DATAKIT"

// LoadConfig reads a YAML, JSON or TOML file into a Config on top of the
// defaults. Environment variables override the file. An empty path loads
// defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read database config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode database config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it even when
// the file does not mention it.
func setDefaults(v *viper.Viper) {
	d := DefaultConnectionConfig()
	defaults := map[string]interface{}{
		"type":                  "sqlite",
		"dsn":                   "",
		"host":                  "localhost",
		"port":                  0,
		"username":              "",
		"password":              "",
		"dbname":                "datakit",
		"sslmode":               "",
		"max_idle_conns":        d.MaxIdleConns,
		"max_open_conns":        d.MaxOpenConns,
		"conn_max_lifetime":     d.ConnMaxLifetime,
		"conn_max_idle_time":    d.ConnMaxIdleTime,
		"connect_timeout":       d.ConnectTimeout,
		"read_timeout":          d.ReadTimeout,
		"write_timeout":         d.WriteTimeout,
		"enable_reconnect":      d.EnableReconnect,
		"reconnect_interval":    d.ReconnectInterval,
		"max_reconnect_tries":   d.MaxReconnectTries,
		"health_check_interval": d.HealthCheckInterval,
		"query_log":             QueryLogOff,
		"slow_query_time":       d.SlowQueryTime,
		"charset":               d.Charset,
	}
	for key, value := range defaults {
		v.SetDefault("connection_config."+key, value)
	}
	v.SetDefault("create_tables", false)
}

// durationOr keeps def when d is unset.
func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
