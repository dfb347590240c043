package action

import "fmt"

var (
	// Presence server
	defaultBindAddr   = "127.0.0.1:2137"
	defaultPublicAddr = fmt.Sprintf("http://%s", defaultBindAddr)

	// Wire protocol
	defaultWireFormat = "json"

	// Periodic room-users resync, 0 disables
	defaultResyncInterval = "30s"

	// SQLite audit trail config
	defaultDatabasePath = "presence-audit.sqlite"
	defaultDatabaseType = "none"
)
