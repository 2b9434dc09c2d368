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

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags registers the supervisor's flags on flagSet and binds each to
// its viper key.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("overlay-root", "", "/var/lib/bvisor/overlay", "Host directory holding the overlay's cow/tmp/symlinks shadow trees.")
	if err = viper.BindPFlag("overlay-root", flagSet.Lookup("overlay-root")); err != nil {
		return err
	}

	flagSet.StringSliceP("blocked-prefixes", "", nil, "Path prefixes a guest thread may never resolve to a backend file.")
	if err = viper.BindPFlag("policy.blocked-prefixes", flagSet.Lookup("blocked-prefixes")); err != nil {
		return err
	}

	flagSet.StringSliceP("passthrough-prefixes", "", nil, "Path prefixes routed straight to the host filesystem.")
	if err = viper.BindPFlag("policy.passthrough-prefixes", flagSet.Lookup("passthrough-prefixes")); err != nil {
		return err
	}

	flagSet.StringP("proc-prefix", "", "/proc", "Path prefix routed to the synthesized proc backend.")
	if err = viper.BindPFlag("policy.proc-prefix", flagSet.Lookup("proc-prefix")); err != nil {
		return err
	}

	flagSet.StringP("tmp-prefix", "", "/tmp", "Path prefix routed to the virtualized tmp backend.")
	if err = viper.BindPFlag("policy.tmp-prefix", flagSet.Lookup("tmp-prefix")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(LogSeverityInfo), "Minimum severity the logger emits: trace, debug, info, warning, error, off.")
	if err = viper.BindPFlag("log.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", string(LogFormatText), "Logger record format: text or json.")
	if err = viper.BindPFlag("log.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-path", "", "", "Diagnostic log file path. Empty writes to stderr.")
	if err = viper.BindPFlag("log.path", flagSet.Lookup("log-path")); err != nil {
		return err
	}

	flagSet.IntP("log-max-size-mb", "", 64, "Diagnostic log file size, in MiB, before rotation.")
	if err = viper.BindPFlag("log.max-size-mb", flagSet.Lookup("log-max-size-mb")); err != nil {
		return err
	}

	flagSet.IntP("log-backup-file-count", "", 3, "Number of rotated diagnostic log files to retain.")
	if err = viper.BindPFlag("log.backup-file-count", flagSet.Lookup("log-backup-file-count")); err != nil {
		return err
	}

	flagSet.IntP("max-fds", "", 1024, "Per-thread open file descriptor ceiling before MFILE.")
	if err = viper.BindPFlag("limits.max-fds", flagSet.Lookup("max-fds")); err != nil {
		return err
	}

	return nil
}
