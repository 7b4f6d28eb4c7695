package manager

import (
	"time"

	"github.com/loykin/svcmgr/internal/service"
)

// DefaultConfigs is the built-in service set used when no configuration file
// is given.
func DefaultConfigs() []service.Config {
	return []service.Config{
		{
			Name:               "network",
			Description:        "Network management service",
			Category:           service.Network,
			Priority:           service.Critical,
			ExecPath:           "/usr/sbin/networkd",
			WorkDir:            "/var/run",
			AutoStart:          true,
			RestartDelay:       time.Second,
			MaxRestartAttempts: 3,
		},
		{
			Name:               "storage",
			Description:        "Storage management service",
			Category:           service.Storage,
			Priority:           service.High,
			ExecPath:           "/usr/sbin/storaged",
			Dependencies:       []string{"network"},
			AutoStart:          true,
			RestartDelay:       2 * time.Second,
			MaxRestartAttempts: 3,
		},
		{
			Name:               "desktop",
			Description:        "Desktop environment",
			Category:           service.User,
			Priority:           service.Normal,
			ExecPath:           "/usr/bin/desktop",
			Dependencies:       []string{"network", "storage"},
			AutoStart:          true,
			RestartDelay:       3 * time.Second,
			MaxRestartAttempts: 5,
		},
	}
}
