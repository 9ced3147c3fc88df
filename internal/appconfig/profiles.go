// internal/appconfig/profiles.go
package appconfig

import "strings"

// ProfileName identifies a sampling preset a backend can opt into.
type ProfileName string

const (
	ProfileGenericChat ProfileName = "generic"
	ProfileFactChecker ProfileName = "fact_checker"
	ProfileCreative    ProfileName = "creative"
	ProfileAccuracy    ProfileName = "accuracy"
)

// ProfileParams are the backend defaults a profile supplies.
type ProfileParams struct {
	MaxTokens   int
	Temperature float64
}

// ParamsForProfile selects a profile by name.
// Behavior:
//   - empty string => Generic Chat
//   - unknown string => Generic Chat
func ParamsForProfile(name string) ProfileParams {
	switch ProfileName(normalizeProfileName(name)) {
	case ProfileAccuracy:
		return ProfileParams{MaxTokens: 512, Temperature: 0.1}
	case ProfileFactChecker:
		return ProfileParams{MaxTokens: 64, Temperature: 0.2}
	case ProfileCreative:
		return ProfileParams{MaxTokens: 2048, Temperature: 1.5}
	default:
		return ProfileParams{MaxTokens: 1024, Temperature: 0.8}
	}
}

// applyProfile fills the backend's unset limits from its profile. A backend without a
// profile keeps falling back to the config-wide values.
func (b *Backend) applyProfile() {
	if strings.TrimSpace(b.Profile) == "" {
		return
	}
	p := ParamsForProfile(b.Profile)
	if b.MaxTokens == 0 {
		b.MaxTokens = p.MaxTokens
	}
	if b.Temperature == nil {
		b.Temperature = Float(p.Temperature)
	}
}

func normalizeProfileName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", "_")
	n = strings.ReplaceAll(n, " ", "_")
	switch n {
	case "factchecker", "fact":
		return string(ProfileFactChecker)
	case "generic_chat", "chat":
		return string(ProfileGenericChat)
	}
	return n
}
