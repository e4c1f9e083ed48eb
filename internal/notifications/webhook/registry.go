package webhook

import (
	"strings"
)

// urlPatterns maps well-known webhook host fragments to their platform.
// Matching is case-insensitive substring search over the destination URL.
var urlPatterns = []struct {
	fragment string
	platform Platform
}{
	{"hooks.slack.com", PlatformSlack},
	{"discord.com/api/webhooks", PlatformDiscord},
}

// PlatformRegistry resolves which formatter a webhook destination needs,
// either from the URL itself or from an explicit platform_override in the
// channel config.
type PlatformRegistry struct {
	formatters map[Platform]PlatformFormatter
}

// NewPlatformRegistry creates a PlatformRegistry with all built-in formatters.
func NewPlatformRegistry() *PlatformRegistry {
	return &PlatformRegistry{
		formatters: map[Platform]PlatformFormatter{
			PlatformSlack:   &SlackFormatter{},
			PlatformDiscord: &DiscordFormatter{},
			PlatformGeneric: &GenericFormatter{},
		},
	}
}

// Detect determines the target Platform for a destination. An explicit,
// recognized config["platform_override"] wins; otherwise the URL is matched
// against urlPatterns. Everything else formats as PlatformGeneric, which
// covers self-hosted receivers and proxies (those set the override when the
// upstream expects a platform payload).
func (r *PlatformRegistry) Detect(url string, config map[string]any) Platform {
	if override, ok := config["platform_override"].(string); ok && override != "" {
		if _, known := r.formatters[Platform(override)]; known {
			return Platform(override)
		}
	}

	lowered := strings.ToLower(url)
	for _, p := range urlPatterns {
		if strings.Contains(lowered, p.fragment) {
			return p.platform
		}
	}
	return PlatformGeneric
}

// Get returns the formatter for a platform, falling back to the generic one
// so callers never receive nil.
func (r *PlatformRegistry) Get(p Platform) PlatformFormatter {
	if f, ok := r.formatters[p]; ok {
		return f
	}
	return r.formatters[PlatformGeneric]
}
