package model

// WellKnown is served at /.well-known/presence.json so the web client can
// discover where and how to open its channel.
type WellKnown struct {
	Version       string `json:"version"`
	Addr          string `json:"addr"`
	WebsocketPath string `json:"websocketPath"`
	ResyncSeconds int    `json:"resyncSeconds,omitempty"`
}
