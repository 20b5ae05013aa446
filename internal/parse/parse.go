// Package parse classifies raw VRChat log lines into a closed set of line
// kinds. Matching is plain prefix/suffix work on the line body rather than
// regexes, so every pattern lives here and is testable against literal fixtures.
package parse

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies what a log line means to the session state machine.
type Kind int

const (
	// KindUnrecognized is any line the state machine does not care about.
	KindUnrecognized Kind = iota
	// KindRoomName declares the name of the room being entered.
	KindRoomName
	// KindRoomID declares the world id and instance of the room being entered.
	KindRoomID
	// KindJoinConfirm confirms the room join completed.
	KindJoinConfirm
	// KindPlayerJoin reports a remote player joining the current room.
	KindPlayerJoin
	// KindPlayerLeft reports a remote player leaving the current room.
	KindPlayerLeft
	// KindRoomLeft reports leaving the current room.
	KindRoomLeft
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindRoomName:
		return "room_name"
	case KindRoomID:
		return "room_id"
	case KindJoinConfirm:
		return "join_confirm"
	case KindPlayerJoin:
		return "player_join"
	case KindPlayerLeft:
		return "player_left"
	case KindRoomLeft:
		return "room_left"
	default:
		return "unrecognized"
	}
}

// Line is a classified log line. Only the fields relevant to its Kind are set.
type Line struct {
	Kind       Kind
	Ts         time.Time
	RoomName   string
	WorldID    string
	InstanceID string
	PlayerName string
	PlayerID   string
	Raw        string
}

// Error wraps a line whose marker matched but whose details could not be
// extracted (truncated or mangled by the log writer).
type Error struct {
	Line string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "parse error"
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// timeLayout is the fixed-width timestamp prefix on every VRChat log line.
const timeLayout = "2006.01.02 15:04:05"

// Line body markers emitted by the VRChat client.
const (
	markerRoomName    = "Entering Room: "
	markerRoomID      = "Joining wrld_"
	markerJoinConfirm = "Successfully joined room"
	markerPlayerJoin  = "OnPlayerJoined "
	markerPlayerLeft  = "OnPlayerLeft "
	markerRoomLeft    = "OnLeftRoom"

	behaviourTag = "[Behaviour] "
)

// Classify turns a raw log line into a classified Line.
// Lines without a known marker come back as KindUnrecognized with a nil
// error. A non-nil error means the marker matched but the line is mangled.
func Classify(raw string) (Line, error) {
	body, ok := lineBody(raw)
	if !ok {
		return Line{Kind: KindUnrecognized, Raw: raw}, nil
	}

	switch {
	case strings.HasPrefix(body, markerRoomName):
		return classifyRoomName(raw, body)
	case strings.HasPrefix(body, markerRoomID):
		return classifyRoomID(raw, body)
	case strings.HasPrefix(body, markerJoinConfirm):
		return classifyMarkerOnly(raw, KindJoinConfirm)
	case strings.HasPrefix(body, markerPlayerJoin):
		return classifyPlayer(raw, body[len(markerPlayerJoin):], KindPlayerJoin)
	case strings.HasPrefix(body, markerPlayerLeft):
		return classifyPlayer(raw, body[len(markerPlayerLeft):], KindPlayerLeft)
	case strings.HasPrefix(body, markerRoomLeft):
		return classifyMarkerOnly(raw, KindRoomLeft)
	default:
		return Line{Kind: KindUnrecognized, Raw: raw}, nil
	}
}

// lineBody returns the text after the "[Behaviour] " tag, or ok=false when
// the line carries no behaviour tag at all.
func lineBody(raw string) (string, bool) {
	idx := strings.Index(raw, behaviourTag)
	if idx < 0 {
		return "", false
	}
	return raw[idx+len(behaviourTag):], true
}

// lineTime parses the fixed-width timestamp prefix.
func lineTime(raw string) (time.Time, error) {
	if len(raw) < len(timeLayout) {
		return time.Time{}, fmt.Errorf("line shorter than timestamp prefix")
	}
	ts, err := time.ParseInLocation(timeLayout, raw[:len(timeLayout)], time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return ts, nil
}

func classifyMarkerOnly(raw string, kind Kind) (Line, error) {
	ts, err := lineTime(raw)
	if err != nil {
		return Line{Kind: KindUnrecognized, Raw: raw}, &Error{Line: raw, Err: err}
	}
	return Line{Kind: kind, Ts: ts, Raw: raw}, nil
}

func classifyRoomName(raw, body string) (Line, error) {
	ts, err := lineTime(raw)
	if err != nil {
		return Line{Kind: KindUnrecognized, Raw: raw}, &Error{Line: raw, Err: err}
	}
	name := strings.TrimSpace(body[len(markerRoomName):])
	if name == "" {
		return Line{Kind: KindUnrecognized, Raw: raw}, &Error{Line: raw, Err: fmt.Errorf("empty room name")}
	}
	return Line{Kind: KindRoomName, Ts: ts, RoomName: name, Raw: raw}, nil
}

func classifyRoomID(raw, body string) (Line, error) {
	ts, err := lineTime(raw)
	if err != nil {
		return Line{Kind: KindUnrecognized, Raw: raw}, &Error{Line: raw, Err: err}
	}

	// Body looks like "Joining wrld_<uuid>:<instance>~flags". The instance
	// suffix is optional on very old logs.
	ref := strings.TrimSpace(strings.TrimPrefix(body, "Joining "))
	worldID, instanceID, _ := strings.Cut(ref, ":")
	if worldID == "wrld_" || worldID == "" {
		return Line{Kind: KindUnrecognized, Raw: raw}, &Error{Line: raw, Err: fmt.Errorf("empty world id")}
	}
	return Line{Kind: KindRoomID, Ts: ts, WorldID: worldID, InstanceID: instanceID, Raw: raw}, nil
}

func classifyPlayer(raw, rest string, kind Kind) (Line, error) {
	ts, err := lineTime(raw)
	if err != nil {
		return Line{Kind: KindUnrecognized, Raw: raw}, &Error{Line: raw, Err: err}
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return Line{Kind: KindUnrecognized, Raw: raw}, &Error{Line: raw, Err: fmt.Errorf("missing player name")}
	}

	// Modern logs append the player id in a trailing "(usr_...)" group.
	// Display names may themselves contain parentheses, so anchor on the
	// last occurrence.
	name := rest
	id := ""
	if idx := strings.LastIndex(rest, " (usr_"); idx >= 0 && strings.HasSuffix(rest, ")") {
		name = rest[:idx]
		id = rest[idx+2 : len(rest)-1]
	}
	if name == "" {
		return Line{Kind: KindUnrecognized, Raw: raw}, &Error{Line: raw, Err: fmt.Errorf("missing player name")}
	}
	return Line{Kind: kind, Ts: ts, PlayerName: name, PlayerID: id, Raw: raw}, nil
}
