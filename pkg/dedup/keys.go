/*
 * Copyright 2026 StageCrew Systems, Inc.
 *
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

package dedup

import "strings"

// Vendors ship placeholder serials on units that were never provisioned.
// Matching on those would flag every unprovisioned unit against every other.
var placeholderSerials = map[string]struct{}{
	"":        {},
	"unknown": {},
	"n/a":     {},
	"none":    {},
	"0":       {},
	"null":    {},
}

// normalizeSerial canonicalizes a serial number for matching. Returns ""
// when the serial carries no identity signal.
func normalizeSerial(serial string) string {
	s := strings.ToLower(strings.TrimSpace(serial))

	if _, placeholder := placeholderSerials[s]; placeholder {
		return ""
	}

	return s
}

// normalizeAddress canonicalizes a network address for matching. Returns ""
// for empty and self-assigned placeholder addresses.
func normalizeAddress(addr string) string {
	a := strings.ToLower(strings.TrimSpace(addr))

	switch a {
	case "0.0.0.0", "127.0.0.1", "::", "::1":
		return ""
	}

	return a
}
