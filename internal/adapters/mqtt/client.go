package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// Broker is the subset of Conn used by controllers and daemon modules.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Controller sends player commands and reads player state.
type Controller struct {
	broker     Broker
	ids        ports.IDGen
	clock      ports.Clock
	identity   string
	topicBase  string
	replyTopic string
	timeout    time.Duration

	mu      sync.Mutex
	replies map[string]chan summa.ReplyEnvelope
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Identity  string
	TopicBase string
	Timeout   time.Duration
	IDs       ports.IDGen
	Clock     ports.Clock
}

// NewController subscribes to the controller's reply topic.
func NewController(broker Broker, opts ControllerOptions) (*Controller, error) {
	if opts.TopicBase == "" {
		opts.TopicBase = summa.BaseTopic
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.IDs == nil || opts.Clock == nil {
		return nil, errors.New("id generator and clock required")
	}
	if opts.Identity == "" {
		opts.Identity = "summarist-" + opts.IDs.NewID()
	}

	c := &Controller{
		broker:     broker,
		ids:        opts.IDs,
		clock:      opts.Clock,
		identity:   opts.Identity,
		topicBase:  opts.TopicBase,
		replyTopic: summa.TopicReply(opts.TopicBase, opts.Identity),
		timeout:    opts.Timeout,
		replies:    map[string]chan summa.ReplyEnvelope{},
	}
	if err := broker.Subscribe(c.replyTopic, 1, c.handleReply); err != nil {
		return nil, err
	}
	return c, nil
}

// ReplyTopic returns the topic used for replies.
func (c *Controller) ReplyTopic() string {
	return c.replyTopic
}

// Command publishes a command and waits for the player's reply. Error replies
// are returned as CLI errors carrying the matching exit code.
func (c *Controller) Command(ctx context.Context, playerID string, cmdType string, body any) (summa.PlaybackState, error) {
	cmd, err := summa.NewCommand(cmdType, body)
	if err != nil {
		return summa.PlaybackState{}, err
	}
	cmd.ID = c.ids.NewID()
	cmd.TS = c.clock.Now().Unix()
	cmd.From = c.identity
	cmd.ReplyTo = c.replyTopic

	reply, err := c.publishCommand(ctx, playerID, cmd)
	if err != nil {
		return summa.PlaybackState{}, err
	}
	if !reply.OK {
		if reply.Err == nil {
			return summa.PlaybackState{}, core.ErrorForReplyCode("", "command failed")
		}
		return summa.PlaybackState{}, core.ErrorForReplyCode(reply.Err.Code, reply.Err.Message)
	}

	var state summa.PlaybackState
	if len(reply.Body) > 0 {
		if err := json.Unmarshal(reply.Body, &state); err != nil {
			return summa.PlaybackState{}, fmt.Errorf("decode reply: %w", err)
		}
	}
	return state, nil
}

func (c *Controller) publishCommand(ctx context.Context, playerID string, cmd summa.CommandEnvelope) (summa.ReplyEnvelope, error) {
	req, err := json.Marshal(cmd)
	if err != nil {
		return summa.ReplyEnvelope{}, fmt.Errorf("marshal command: %w", err)
	}

	replyCh := make(chan summa.ReplyEnvelope, 1)
	c.mu.Lock()
	c.replies[cmd.ID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.replies, cmd.ID)
		c.mu.Unlock()
	}()

	topic := summa.TopicCommands(c.topicBase, playerID)
	if err := c.broker.Publish(topic, 1, false, req); err != nil {
		return summa.ReplyEnvelope{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return summa.ReplyEnvelope{}, ctx.Err()
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return summa.ReplyEnvelope{}, core.WrapError(core.ExitUpstream, "no reply from player "+playerID, core.ErrUpstreamUnavailable)
	}
}

func (c *Controller) handleReply(_ paho.Client, msg paho.Message) {
	var reply summa.ReplyEnvelope
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.replies[reply.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- reply:
	default:
	}
}

// State returns the retained state of a player.
func (c *Controller) State(ctx context.Context, playerID string) (summa.PlaybackState, error) {
	stateCh := make(chan summa.PlaybackState, 1)
	handler := func(_ paho.Client, msg paho.Message) {
		var state summa.PlaybackState
		if err := json.Unmarshal(msg.Payload(), &state); err != nil {
			return
		}
		select {
		case stateCh <- state:
		default:
		}
	}

	topic := summa.TopicState(c.topicBase, playerID)
	if err := c.broker.Subscribe(topic, 1, handler); err != nil {
		return summa.PlaybackState{}, err
	}
	defer func() {
		_ = c.broker.Unsubscribe(topic)
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return summa.PlaybackState{}, ctx.Err()
	case state := <-stateCh:
		return state, nil
	case <-timer.C:
		return summa.PlaybackState{}, core.WrapError(core.ExitNotFound, "no state for player "+playerID, core.ErrNotFound)
	}
}

// Watch streams state updates for a player until ctx is done.
func (c *Controller) Watch(ctx context.Context, playerID string) (<-chan summa.PlaybackState, error) {
	stateCh := make(chan summa.PlaybackState, 8)
	var mu sync.Mutex
	done := false

	handler := func(_ paho.Client, msg paho.Message) {
		var state summa.PlaybackState
		if err := json.Unmarshal(msg.Payload(), &state); err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		select {
		case stateCh <- state:
		default:
		}
	}

	topic := summa.TopicState(c.topicBase, playerID)
	if err := c.broker.Subscribe(topic, 1, handler); err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		_ = c.broker.Unsubscribe(topic)
		mu.Lock()
		done = true
		close(stateCh)
		mu.Unlock()
	}()
	return stateCh, nil
}

// Players collects the retained state of every player on the bus.
func (c *Controller) Players(ctx context.Context, wait time.Duration) ([]core.PlaybackResult, error) {
	collect := map[string]summa.PlaybackState{}
	var mu sync.Mutex
	prefix := c.topicBase + "/player/"

	handler := func(_ paho.Client, msg paho.Message) {
		id := strings.TrimSuffix(strings.TrimPrefix(msg.Topic(), prefix), "/state")
		if id == "" || strings.Contains(id, "/") {
			return
		}
		var state summa.PlaybackState
		if err := json.Unmarshal(msg.Payload(), &state); err != nil {
			return
		}
		mu.Lock()
		collect[id] = state
		mu.Unlock()
	}

	topic := summa.TopicState(c.topicBase, "+")
	if err := c.broker.Subscribe(topic, 1, handler); err != nil {
		return nil, err
	}
	defer func() {
		_ = c.broker.Unsubscribe(topic)
	}()

	if wait <= 0 {
		wait = 250 * time.Millisecond
	}
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]core.PlaybackResult, 0, len(collect))
	for id, state := range collect {
		out = append(out, core.PlaybackResult{PlayerID: id, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}
