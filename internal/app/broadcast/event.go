// Package broadcast fans out party events to connected guest devices.
package broadcast

import "encoding/json"

// EventType identifies an event on the wire.
type EventType string

const (
	// EventInit carries the full party state to a newly connected client.
	EventInit EventType = "INIT"
	// EventTrackChange announces a new now-playing track.
	EventTrackChange EventType = "TRACK_CHANGE"
	// EventQueueUpdate announces a changed queue.
	EventQueueUpdate EventType = "QUEUE_UPDATE"
	// EventLedgerUpdate announces changed token balances.
	EventLedgerUpdate EventType = "LEDGER_UPDATE"
	// EventThemeUpdate announces a theme switch.
	EventThemeUpdate EventType = "THEME_UPDATE"
	// EventLyricsUpdate announces lyrics arriving for the current track.
	EventLyricsUpdate EventType = "LYRICS_UPDATE"
	// EventResearchUpdate announces metadata research for the current track.
	EventResearchUpdate EventType = "RESEARCH_UPDATE"
	// EventKaraokeQueue announces karaoke mode toggling.
	EventKaraokeQueue EventType = "KARAOKE_QUEUE"
	// EventReaction relays a guest reaction emoji.
	EventReaction EventType = "REACTION"
	// EventStationRefresh announces a rebuilt fallback pool.
	EventStationRefresh EventType = "STATION_REFRESH"
)

// Event is one broadcast frame. On the wire it is a single JSON object,
// newline-delimited on streaming transports.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Marshal encodes the event as a JSON line without the trailing newline.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
