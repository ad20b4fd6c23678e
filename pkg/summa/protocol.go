package summa

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BaseTopic is the default MQTT topic prefix for the player protocol.
const BaseTopic = "summarist/v1"

// PlayerStatus is a playback session state.
type PlayerStatus string

const (
	StatusIdle      PlayerStatus = "idle"
	StatusLoading   PlayerStatus = "loading"
	StatusReady     PlayerStatus = "ready"
	StatusPlaying   PlayerStatus = "playing"
	StatusPaused    PlayerStatus = "paused"
	StatusCompleted PlayerStatus = "completed"
	StatusError     PlayerStatus = "error"
)

// PlaybackState is the observable state of the single active audio session.
type PlaybackState struct {
	Status          PlayerStatus `json:"status"`
	ActiveItemID    string       `json:"activeItemId,omitempty"`
	IsPlaying       bool         `json:"isPlaying"`
	PositionSeconds float64      `json:"positionSeconds"`
	TotalSeconds    float64      `json:"totalSeconds"`
	Error           string       `json:"error,omitempty"`
	UpgradeRequired bool         `json:"upgradeRequired,omitempty"`
	Version         int64        `json:"version,omitempty"`
	TS              int64        `json:"ts"`
}

// CommandEnvelope is a player command published on MQTT.
type CommandEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	From    string          `json:"from"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Body    json.RawMessage `json:"body"`
}

// ReplyEnvelope is the response envelope for commands.
type ReplyEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	OK   bool            `json:"ok"`
	TS   int64           `json:"ts"`
	Body json.RawMessage `json:"body,omitempty"`
	Err  *ReplyError     `json:"err,omitempty"`
}

// ReplyError describes an error response.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewCommand builds a command envelope with a JSON body.
func NewCommand(cmdType string, body any) (CommandEnvelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return CommandEnvelope{}, fmt.Errorf("marshal body: %w", err)
	}

	return CommandEnvelope{
		Type: cmdType,
		Body: payload,
	}, nil
}

// ValidateCommandEnvelope validates required fields.
func ValidateCommandEnvelope(cmd CommandEnvelope) error {
	if strings.TrimSpace(cmd.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(cmd.Type) == "" {
		return errors.New("type is required")
	}
	if cmd.TS <= 0 {
		return errors.New("ts must be a positive unix timestamp")
	}
	if strings.TrimSpace(cmd.From) == "" {
		return errors.New("from is required")
	}
	if len(cmd.Body) == 0 {
		return errors.New("body is required")
	}
	if !KnownCommand(cmd.Type) {
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
	return nil
}

// KnownCommand reports whether the player understands a command type.
func KnownCommand(cmdType string) bool {
	switch cmdType {
	case CmdLoad, CmdPlay, CmdPause, CmdSeek, CmdSkip, CmdSeekFraction, CmdStop, CmdStatus:
		return true
	default:
		return false
	}
}

// TopicState builds the retained state topic for a player.
func TopicState(topicBase, playerID string) string {
	return fmt.Sprintf("%s/player/%s/state", topicBase, playerID)
}

// TopicCommands builds the command topic for a player.
func TopicCommands(topicBase, playerID string) string {
	return fmt.Sprintf("%s/player/%s/cmd", topicBase, playerID)
}

// TopicReply builds the reply topic for a controller instance.
func TopicReply(topicBase, controllerID string) string {
	return fmt.Sprintf("%s/reply/%s", topicBase, controllerID)
}
