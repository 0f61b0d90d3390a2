package webhook

import "strings"

const TopicAppUninstalled = "app_uninstalled"

// topicAliases maps route names to the topic they deliver.
var topicAliases = map[string]string{
	"uninstall": TopicAppUninstalled,
}

// NormalizeTopic converts Shopify topic strings (often like "app/uninstalled") into a stable internal form.
// Examples:
// - "app/uninstalled" -> "app_uninstalled"
// - "uninstall" -> "app_uninstalled"
func NormalizeTopic(topic string) string {
	t := strings.TrimSpace(strings.ToLower(topic))
	t = strings.ReplaceAll(t, "/", "_")
	t = strings.ReplaceAll(t, ".", "_")
	t = strings.ReplaceAll(t, "-", "_")
	for strings.Contains(t, "__") {
		t = strings.ReplaceAll(t, "__", "_")
	}
	t = strings.Trim(t, "_")
	if alias, ok := topicAliases[t]; ok {
		return alias
	}
	return t
}
