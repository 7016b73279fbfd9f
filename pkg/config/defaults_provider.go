package config

import "github.com/knadh/koanf/providers/confmap"

// confmapProvider wraps the built-in default map as a koanf.Provider so it
// loads through the same Load() path as the file and env providers.
func confmapProvider(values map[string]any) *confmap.Confmap {
	return confmap.Provider(values, ".")
}
