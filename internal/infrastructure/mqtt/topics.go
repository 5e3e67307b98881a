package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "entrance"

// Topics builds the gateway's MQTT topic names under a common prefix.
//
//	topics := mqtt.NewTopics("entrance")
//	topics.ConnectionState("router1", "cli_exec")
//	// Returns: "entrance/state/router1/cli_exec"
type Topics struct {
	prefix string
}

// NewTopics returns a builder rooted at prefix (trailing slashes trimmed).
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// SystemStatus returns the retained online/offline topic for the gateway.
//
// Example: entrance/system/status
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}

// ConnectionState returns the retained aggregate state topic of one target
// feature. Path separators inside names are replaced so a target name never
// adds topic levels.
//
// Example: entrance/state/router1/cli_exec
func (t Topics) ConnectionState(target, feature string) string {
	return fmt.Sprintf("%s/state/%s/%s", t.prefix, topicLevel(target), topicLevel(feature))
}

// topicLevel makes s safe as a single MQTT topic level. Empty names map
// to "_" so the level count stays fixed.
func topicLevel(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
