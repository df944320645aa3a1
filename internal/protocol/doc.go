// Package protocol defines the versioned JSON message schema spoken on the
// WebSocket surface. The desktop client embeds these definitions to drive its
// UI state from the same wallet model the server maintains.
package protocol
