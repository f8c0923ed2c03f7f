package config

import "strings"

// ProfileFor maps an assigned doctor name to an avatar profile id. The full
// lowercased name is tried first, then each word of it, so "Dr. Sarah Lee"
// resolves through a "sarah" entry. Unknown names get the fallback.
func (p ProfilesConfig) ProfileFor(doctor string) string {
	name := strings.ToLower(strings.TrimSpace(doctor))
	if profile, ok := p.DoctorMap[name]; ok && profile != "" {
		return profile
	}
	for _, word := range strings.Fields(name) {
		word = strings.Trim(word, ".,")
		if word == "dr" {
			continue
		}
		if profile, ok := p.DoctorMap[word]; ok && profile != "" {
			return profile
		}
	}
	return p.Fallback
}
