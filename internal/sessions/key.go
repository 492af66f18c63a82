package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes direct conversations from shared ones.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildKey builds the canonical session id for a channel conversation:
//
//	{channel}:{kind}:{peerID}
//
// e.g. "cli:direct:local", "http:direct:alice". Channels that already
// carry their own session ids bypass this and pass them through.
func BuildKey(channel string, kind PeerKind, peerID string) string {
	return fmt.Sprintf("%s:%s:%s", channel, kind, peerID)
}

// ParseKey splits a canonical session id into its parts. ok is false for
// ids that are not in the canonical form (e.g. caller-supplied UUIDs).
func ParseKey(id string) (channel string, kind PeerKind, peerID string, ok bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", false
	}
	switch PeerKind(parts[1]) {
	case PeerDirect, PeerGroup:
		return parts[0], PeerKind(parts[1]), parts[2], true
	}
	return "", "", "", false
}
