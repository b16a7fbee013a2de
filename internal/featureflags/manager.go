// Package featureflags evaluates FEATURE_FLAGS, e.g. "realtime_push=on,image_uploads=25%".
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

const (
	RealtimePush = "realtime_push"
	ImageUploads = "image_uploads"
)

// Manager evaluates feature flags parsed from a comma-separated key=value list.
// Values are on/true/1, off/false/0, or N% for a deterministic per-user rollout.
type Manager struct {
	flags map[string]string
}

func NewManager(raw string) *Manager {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return &Manager{flags: out}
}

// Enabled reports whether name is on for userID. Unknown flags are off, and a
// percentage rollout is off for the anonymous (empty) user.
func (m *Manager) Enabled(name, userID string) bool {
	if m == nil {
		return false
	}
	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	switch {
	case err != nil || pct <= 0:
		return false
	case pct >= 100:
		return true
	case userID == "":
		return false
	}
	return rolloutBucket(name, userID) < pct
}

// Snapshot returns evaluated flag status for one user.
func (m *Manager) Snapshot(userID string) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + userID))
	return int(h.Sum32() % 100)
}
