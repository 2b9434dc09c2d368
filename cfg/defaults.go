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

// overlayMountPoint is the overlay's own storage mount, hard-blocked so a
// guest can never see its own shadow trees.
const overlayMountPoint = "/tmp/.bvisor-overlay"

// DefaultConfig returns the supervisor's default policy surface.
func DefaultConfig() Config {
	return Config{
		OverlayRoot: "/var/lib/bvisor/overlay",
		Policy: PolicyConfig{
			BlockedPrefixes:     []string{"/sys", overlayMountPoint},
			PassthroughPrefixes: []string{"/dev"},
			ProcPrefix:          "/proc",
			TmpPrefix:           "/tmp",
		},
		Log: LogConfig{
			Severity:        LogSeverityInfo,
			Format:          LogFormatText,
			MaxSizeMB:       64,
			BackupFileCount: 3,
		},
		Limits: LimitsConfig{
			MaxFds: 1024,
		},
	}
}
