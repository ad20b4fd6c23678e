// Package player hosts a playback session behind the MQTT command bus.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/adapters/mqtt"
	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// Player is the playback session driven by commands.
type Player interface {
	Load(ctx context.Context, userID string, itemID string) (summa.PlaybackState, error)
	Play(ctx context.Context) (summa.PlaybackState, error)
	Pause(ctx context.Context) (summa.PlaybackState, error)
	Seek(ctx context.Context, delta float64) (summa.PlaybackState, error)
	Skip(ctx context.Context, forward bool) (summa.PlaybackState, error)
	SeekFraction(ctx context.Context, fraction float64) (summa.PlaybackState, error)
	Unload(ctx context.Context) (summa.PlaybackState, error)
	State() summa.PlaybackState
	Run(ctx context.Context) error
}

// Users tracks the signed-in user whose library receives completions.
type Users interface {
	UserID() string
	SignIn(ctx context.Context, userID string) error
}

// Config configures the player module.
type Config struct {
	PlayerID  string
	TopicBase string
	// UserID is signed in at startup and used for loads without a user.
	UserID string
	// StateInterval is how often a changed position is republished.
	StateInterval  time.Duration
	CommandTimeout time.Duration
}

// Module bridges MQTT commands to a Player.
type Module struct {
	log      *zap.Logger
	client   mqtt.Broker
	player   Player
	users    Users
	clock    ports.Clock
	config   Config
	cmdTopic string
	commands chan summa.CommandEnvelope

	mu        sync.Mutex
	published summa.PlaybackState
}

// NewModule creates a player module.
func NewModule(log *zap.Logger, client mqtt.Broker, player Player, users Users, clock ports.Clock, cfg Config) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.PlayerID) == "" {
		return nil, errors.New("player_id required")
	}
	if client == nil || player == nil || users == nil || clock == nil {
		return nil, errors.New("client, player, users and clock required")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = summa.BaseTopic
	}
	if cfg.StateInterval <= 0 {
		cfg.StateInterval = time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}

	return &Module{
		log:      log,
		client:   client,
		player:   player,
		users:    users,
		clock:    clock,
		config:   cfg,
		cmdTopic: summa.TopicCommands(cfg.TopicBase, cfg.PlayerID),
		commands: make(chan summa.CommandEnvelope, 32),
	}, nil
}

// Run serves commands until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	if m.config.UserID != "" {
		if err := m.users.SignIn(ctx, m.config.UserID); err != nil {
			m.log.Warn("initial sign-in incomplete", zap.String("user_id", m.config.UserID), zap.Error(err))
		}
	}
	if err := m.publishState(m.player.State()); err != nil {
		return err
	}

	go func() {
		if err := m.player.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("media events stopped", zap.Error(err))
		}
	}()
	go m.runStateUpdates(ctx)

	handler := func(_ paho.Client, msg paho.Message) {
		m.handleMessage(msg)
	}
	if err := m.client.Subscribe(m.cmdTopic, 1, handler); err != nil {
		return err
	}
	defer func() {
		_ = m.client.Unsubscribe(m.cmdTopic)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-m.commands:
			cmdCtx, cancel := context.WithTimeout(ctx, m.config.CommandTimeout)
			reply := m.dispatch(cmdCtx, cmd)
			cancel()
			m.publishReply(cmd.ReplyTo, reply)
		}
	}
}

func (m *Module) handleMessage(msg paho.Message) {
	var cmd summa.CommandEnvelope
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		m.log.Warn("invalid command", zap.Error(err))
		return
	}
	select {
	case m.commands <- cmd:
	default:
		m.publishReply(cmd.ReplyTo, m.errorReply(cmd, core.CodeConflict, "player busy"))
	}
}

func (m *Module) dispatch(ctx context.Context, cmd summa.CommandEnvelope) summa.ReplyEnvelope {
	if err := summa.ValidateCommandEnvelope(cmd); err != nil {
		return m.errorReply(cmd, core.CodeInvalid, err.Error())
	}

	state, err := m.apply(ctx, cmd)
	if err != nil {
		m.log.Debug("command failed", zap.String("type", cmd.Type), zap.String("from", cmd.From), zap.Error(err))
		return m.errorReply(cmd, core.ReplyCode(err), err.Error())
	}
	body, err := json.Marshal(state)
	if err != nil {
		return m.errorReply(cmd, core.CodeInvalid, err.Error())
	}
	return summa.ReplyEnvelope{ID: cmd.ID, Type: "ack", OK: true, TS: m.clock.Now().Unix(), Body: body}
}

func (m *Module) apply(ctx context.Context, cmd summa.CommandEnvelope) (summa.PlaybackState, error) {
	switch cmd.Type {
	case summa.CmdLoad:
		var body summa.LoadBody
		if err := decodeBody(cmd, &body); err != nil {
			return summa.PlaybackState{}, err
		}
		userID, err := m.userFor(ctx, body.UserID)
		if err != nil {
			return summa.PlaybackState{}, err
		}
		return m.player.Load(ctx, userID, body.BookID)
	case summa.CmdPlay:
		return m.player.Play(ctx)
	case summa.CmdPause:
		return m.player.Pause(ctx)
	case summa.CmdSeek:
		var body summa.SeekBody
		if err := decodeBody(cmd, &body); err != nil {
			return summa.PlaybackState{}, err
		}
		return m.player.Seek(ctx, body.DeltaSeconds)
	case summa.CmdSkip:
		var body summa.SkipBody
		if err := decodeBody(cmd, &body); err != nil {
			return summa.PlaybackState{}, err
		}
		return m.player.Skip(ctx, body.Forward)
	case summa.CmdSeekFraction:
		var body summa.SeekFractionBody
		if err := decodeBody(cmd, &body); err != nil {
			return summa.PlaybackState{}, err
		}
		return m.player.SeekFraction(ctx, body.Fraction)
	case summa.CmdStop:
		return m.player.Unload(ctx)
	case summa.CmdStatus:
		return m.player.State(), nil
	default:
		return summa.PlaybackState{}, fmt.Errorf("unknown command %q", cmd.Type)
	}
}

// userFor switches the signed-in user when a load names a different one.
func (m *Module) userFor(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	current := m.users.UserID()
	if requested == "" || requested == current {
		return current, nil
	}
	if err := m.users.SignIn(ctx, requested); err != nil {
		m.log.Warn("sign-in incomplete", zap.String("user_id", requested), zap.Error(err))
	}
	return requested, nil
}

func decodeBody(cmd summa.CommandEnvelope, dst any) error {
	if err := json.Unmarshal(cmd.Body, dst); err != nil {
		return core.UsageError(fmt.Sprintf("invalid %s body: %v", cmd.Type, err))
	}
	return nil
}

func (m *Module) errorReply(cmd summa.CommandEnvelope, code string, message string) summa.ReplyEnvelope {
	return summa.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   m.clock.Now().Unix(),
		Err:  &summa.ReplyError{Code: code, Message: message},
	}
}

func (m *Module) publishReply(replyTo string, reply summa.ReplyEnvelope) {
	if replyTo != "" {
		payload, err := json.Marshal(reply)
		if err == nil {
			if err := m.client.Publish(replyTo, 1, false, payload); err != nil {
				m.log.Warn("publish reply", zap.String("topic", replyTo), zap.Error(err))
			}
		}
	}
	if err := m.publishState(m.player.State()); err != nil {
		m.log.Warn("publish state", zap.Error(err))
	}
}

func (m *Module) runStateUpdates(ctx context.Context) {
	ticker := time.NewTicker(m.config.StateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.publishIfChanged(m.player.State()); err != nil {
				m.log.Warn("publish state", zap.Error(err))
			}
		}
	}
}

func (m *Module) publishIfChanged(state summa.PlaybackState) error {
	m.mu.Lock()
	last := m.published
	m.mu.Unlock()
	if last.Version == state.Version && last.PositionSeconds == state.PositionSeconds && last.Status == state.Status {
		return nil
	}
	return m.publishState(state)
}

func (m *Module) publishState(state summa.PlaybackState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.TS = m.clock.Now().Unix()
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := m.client.Publish(summa.TopicState(m.config.TopicBase, m.config.PlayerID), 1, true, payload); err != nil {
		return err
	}
	m.published = state
	return nil
}
