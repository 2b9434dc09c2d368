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
	"path/filepath"
	"strings"
)

// Rationalize updates config fields derived from other fields, the way the
// teacher's cfg.Rationalize resolves cache sizes from deprecated flags.
func Rationalize(c *Config) error {
	c.OverlayRoot = filepath.Clean(c.OverlayRoot)

	c.Policy.BlockedPrefixes = cleanPrefixes(c.Policy.BlockedPrefixes)
	c.Policy.PassthroughPrefixes = cleanPrefixes(c.Policy.PassthroughPrefixes)
	c.Policy.ProcPrefix = cleanPrefix(c.Policy.ProcPrefix)
	c.Policy.TmpPrefix = cleanPrefix(c.Policy.TmpPrefix)

	c.Log.Severity = LogSeverity(strings.ToUpper(string(c.Log.Severity)))

	return nil
}

func cleanPrefix(p string) string {
	if p == "" {
		return p
	}
	cleaned := filepath.Clean(p)
	if cleaned == "/" {
		return cleaned
	}
	return strings.TrimSuffix(cleaned, "/")
}

func cleanPrefixes(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = cleanPrefix(p)
	}
	return out
}
