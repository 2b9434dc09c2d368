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
	"fmt"
	"path/filepath"
	"strings"
)

const (
	OverlayRootNotAbsoluteError = "overlay-root must be an absolute path"
	MaxFdsInvalidValueError     = "limits.max-fds must be a positive value"
	LogRotateMaxSizeError       = "log.max-size-mb should be at least 1"
	LogRotateBackupCountError   = "log.backup-file-count should be 0 (retain all) or positive"
)

func isValidOverlayRoot(root string) error {
	if !filepath.IsAbs(root) {
		return fmt.Errorf(OverlayRootNotAbsoluteError)
	}
	return nil
}

func isValidLimits(l *LimitsConfig) error {
	if l.MaxFds <= 0 {
		return fmt.Errorf(MaxFdsInvalidValueError)
	}
	return nil
}

func isValidLogConfig(l *LogConfig) error {
	if l.MaxSizeMB <= 0 {
		return fmt.Errorf(LogRotateMaxSizeError)
	}
	if l.BackupFileCount < 0 {
		return fmt.Errorf(LogRotateBackupCountError)
	}
	return nil
}

// prefixesOverlap reports whether any two prefixes in the policy surface
// are equal or nest inside each other, which would make blocked-vs-
// passthrough routing ambiguous (routing checks every blocked prefix before
// any passthrough prefix and takes the first match).
func prefixesOverlap(a, b []string) (string, string, bool) {
	for _, pa := range a {
		for _, pb := range b {
			if strings.HasPrefix(pa+"/", pb+"/") || strings.HasPrefix(pb+"/", pa+"/") {
				return pa, pb, true
			}
		}
	}
	return "", "", false
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidOverlayRoot(config.OverlayRoot); err != nil {
		return fmt.Errorf("error parsing overlay-root config: %w", err)
	}

	if err := isValidLimits(&config.Limits); err != nil {
		return fmt.Errorf("error parsing limits config: %w", err)
	}

	if err := isValidLogConfig(&config.Log); err != nil {
		return fmt.Errorf("error parsing log config: %w", err)
	}

	if p1, p2, ok := prefixesOverlap(config.Policy.BlockedPrefixes, config.Policy.PassthroughPrefixes); ok {
		return fmt.Errorf("blocked-prefixes and passthrough-prefixes overlap: %q and %q", p1, p2)
	}

	return nil
}
