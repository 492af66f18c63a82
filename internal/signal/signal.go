// Package signal labels inbound messages with a five-dimensional tag and a
// scalar weight, and filters low-weight noise before any model call.
package signal

import "time"

// Mode says what should be done with the message.
type Mode string

const (
	ModeExecute  Mode = "execute"
	ModeBuild    Mode = "build"
	ModeAnalyze  Mode = "analyze"
	ModeMaintain Mode = "maintain"
	ModeAssist   Mode = "assist"
)

// Genre is the speech-act intent of the message.
type Genre string

const (
	GenreDirect  Genre = "direct"
	GenreInform  Genre = "inform"
	GenreCommit  Genre = "commit"
	GenreDecide  Genre = "decide"
	GenreExpress Genre = "express"
)

// Format is the container form, derived from the originating channel.
type Format string

const (
	FormatMessage      Format = "message"
	FormatDocument     Format = "document"
	FormatNotification Format = "notification"
	FormatCommand      Format = "command"
	FormatTranscript   Format = "transcript"
)

// Signal is the immutable classification of one inbound message.
type Signal struct {
	Mode      Mode      `json:"mode"`
	Genre     Genre     `json:"genre"`
	Type      string    `json:"type"`
	Format    Format    `json:"format"`
	Weight    float64   `json:"weight"`
	RawText   string    `json:"raw_text"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
}

// Map flattens the signal into an event payload.
func (s Signal) Map() map[string]any {
	return map[string]any{
		"mode":    string(s.Mode),
		"genre":   string(s.Genre),
		"type":    s.Type,
		"format":  string(s.Format),
		"weight":  s.Weight,
		"channel": s.Channel,
	}
}
