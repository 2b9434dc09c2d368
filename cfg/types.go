// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

// LogSeverity is a validated, case-normalized logging level.
type LogSeverity string

const (
	LogSeverityTrace LogSeverity = "TRACE"
	LogSeverityDebug LogSeverity = "DEBUG"
	LogSeverityInfo  LogSeverity = "INFO"
	LogSeverityWarn  LogSeverity = "WARNING"
	LogSeverityError LogSeverity = "ERROR"
	LogSeverityOff   LogSeverity = "OFF"
)

// LogFormat selects the logger's on-disk record shape.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config is the supervisor's full typed configuration, bound from flags and
// an optional YAML file via viper and decoded with mapstructure.
type Config struct {
	// OverlayRoot is the host directory holding the overlay's cow/, tmp/ and
	// symlinks/ shadow trees.
	OverlayRoot string `mapstructure:"overlay-root" yaml:"overlay-root"`

	Policy PolicyConfig `mapstructure:"policy" yaml:"policy"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Limits LimitsConfig `mapstructure:"limits" yaml:"limits"`
}

// PolicyConfig is the fixed, process-wide policy surface, exposed as
// config rather than compiled-in constants so that a deployment
// can add host-specific blocked or passthrough prefixes.
type PolicyConfig struct {
	BlockedPrefixes     []string `mapstructure:"blocked-prefixes" yaml:"blocked-prefixes"`
	PassthroughPrefixes []string `mapstructure:"passthrough-prefixes" yaml:"passthrough-prefixes"`
	ProcPrefix          string   `mapstructure:"proc-prefix" yaml:"proc-prefix"`
	TmpPrefix           string   `mapstructure:"tmp-prefix" yaml:"tmp-prefix"`
}

type LogConfig struct {
	Severity LogSeverity `mapstructure:"severity" yaml:"severity"`
	Format   LogFormat   `mapstructure:"format" yaml:"format"`
	// Path is the supervisor's own diagnostic log file; empty means stderr.
	Path            string `mapstructure:"path" yaml:"path"`
	MaxSizeMB       int    `mapstructure:"max-size-mb" yaml:"max-size-mb"`
	BackupFileCount int    `mapstructure:"backup-file-count" yaml:"backup-file-count"`
	Compress        bool   `mapstructure:"compress" yaml:"compress"`
}

type LimitsConfig struct {
	// MaxFds bounds a single thread's fd table before insert/dup fail MFILE.
	MaxFds int `mapstructure:"max-fds" yaml:"max-fds"`
}
