package backend

import (
	"fmt"

	"github.com/relcore/toolgate/pkg/config"
)

// New builds the Adapter named by cfg.BackendType. hook may be nil.
func New(cfg *config.Config, hook RequestHook) (Adapter, error) {
	switch cfg.BackendType {
	case config.BackendNative:
		return NewNativeAdapter(cfg.BackendEndpoint, cfg.BackendModel, cfg.BackendConnectTimeout, cfg.BackendReadTimeout, cfg.BackendRetryAttempts, cfg.BackendRetryInitDelay, hook), nil
	case config.BackendOpenAICompat:
		return NewOpenAICompatAdapter(cfg.BackendEndpoint, cfg.BackendModel, cfg.BackendConnectTimeout, cfg.BackendReadTimeout, cfg.BackendRetryAttempts, cfg.BackendRetryInitDelay, hook), nil
	default:
		return nil, fmt.Errorf("backend: unknown backend_type %q", cfg.BackendType)
	}
}
