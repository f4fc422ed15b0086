package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
)

type ConfigHandler struct {
	logger arbor.ILogger
	config *common.Config
}

func NewConfigHandler(logger arbor.ILogger, config *common.Config) *ConfigHandler {
	return &ConfigHandler{
		logger: logger,
		config: config,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Version string         `json:"version"`
	Build   string         `json:"build"`
	Port    int            `json:"port"`
	Host    string         `json:"host"`
	Config  *common.Config `json:"config"`
}

// GetConfig handles GET /api/config. Credentials are masked.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	config := *h.config
	config.Portal.Password = mask(config.Portal.Password)
	config.Cache.Redis.Password = mask(config.Cache.Redis.Password)

	response := ConfigResponse{
		Version: common.GetVersion(),
		Build:   common.Build,
		Port:    config.Server.Port,
		Host:    config.Server.Host,
		Config:  &config,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode config response")
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
