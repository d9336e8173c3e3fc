package browser

import (
	"element-hunter/internal/config"
	"element-hunter/internal/ports"
)

// NewDriver returns the BrowserManager named by BrowserConfig.Driver.
func NewDriver(params Params) ports.BrowserManager {
	if params.Config.BrowserConfig.Driver == config.DriverRod {
		return NewRodManager(params)
	}

	return NewManager(params)
}
