// Package pubsub carries room channels over Redis Pub/Sub and tracks who is present on them.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"

	subscriptionBuffer = 64
	scanCount          = 100
)

var ErrSubscriptionClosed = errors.New("subscription closed")

type Broker struct {
	logger *slog.Logger
	client *redis.Client
}

func NewBroker(logger *slog.Logger, client *redis.Client) *Broker {
	return &Broker{
		logger: logger.With("component", "broker"),
		client: client,
	}
}

// Publish sends the message to every subscriber of the channel.
func (that *Broker) Publish(ctx context.Context, channel string, msg Message) error {
	msg.Channel = channel

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err = that.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}

	return nil
}

// Subscribe listens on the given channels. More channels can be added to the subscription later.
func (that *Broker) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	return that.subscribe(ctx, that.client.Subscribe(ctx, channels...))
}

// PSubscribe listens on every channel matching the pattern.
func (that *Broker) PSubscribe(ctx context.Context, pattern string) (*Subscription, error) {
	return that.subscribe(ctx, that.client.PSubscribe(ctx, pattern))
}

func (that *Broker) subscribe(ctx context.Context, ps *redis.PubSub) (*Subscription, error) {
	// wait for the confirmation so that nothing published after we return is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	sub := &Subscription{
		logger:   that.logger,
		ps:       ps,
		messages: make(chan Message, subscriptionBuffer),
		done:     make(chan struct{}),
	}

	go sub.forward()

	return sub, nil
}

// Enter adds the client to the presence set of the channel and announces it.
func (that *Broker) Enter(ctx context.Context, channel, clientID string) error {
	if err := that.touchPresence(ctx, channel, clientID); err != nil {
		return err
	}

	return that.Publish(ctx, channel, Message{Action: ActionPresenceEnter, ClientID: clientID})
}

// Heartbeat refreshes the presence of the client and announces it.
func (that *Broker) Heartbeat(ctx context.Context, channel, clientID string) error {
	if err := that.touchPresence(ctx, channel, clientID); err != nil {
		return err
	}

	return that.Publish(ctx, channel, Message{Action: ActionPresenceUpdate, ClientID: clientID})
}

// Leave removes the client from the presence set of the channel and announces it.
func (that *Broker) Leave(ctx context.Context, channel, clientID string) error {
	if err := that.client.ZRem(ctx, presenceKey(channel), clientID).Err(); err != nil {
		return fmt.Errorf("failed to leave presence: %w", err)
	}

	return that.Publish(ctx, channel, Message{Action: ActionPresenceLeave, ClientID: clientID})
}

// Members lists the clients that have been seen on the channel within grace. Older entries are dropped.
func (that *Broker) Members(ctx context.Context, channel string, grace time.Duration) ([]string, error) {
	key := presenceKey(channel)
	cutoff := time.Now().Add(-grace).UnixMilli()

	if err := that.client.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune presence: %w", err)
	}

	members, err := that.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	return members, nil
}

// ReapStale makes clients that stopped sending heartbeats leave every channel matching the pattern.
// It returns how many were removed.
func (that *Broker) ReapStale(ctx context.Context, pattern string, grace time.Duration) (int, error) {
	log := that.logger.With("method", "ReapStale")

	cutoff := "(" + strconv.FormatInt(time.Now().Add(-grace).UnixMilli(), 10)
	reaped := 0

	iter := that.client.Scan(ctx, 0, presenceKey(pattern), scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		channel := strings.TrimPrefix(key, presenceKeyPrefix)

		stale, err := that.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return reaped, fmt.Errorf("failed to list stale presence: %w", err)
		}

		for _, clientID := range stale {
			if err = that.Leave(ctx, channel, clientID); err != nil {
				return reaped, err
			}

			log.Debug("stale presence reaped", "channel", channel, "clientID", clientID)
			reaped++
		}
	}

	if err := iter.Err(); err != nil {
		return reaped, fmt.Errorf("failed to scan presence: %w", err)
	}

	return reaped, nil
}

func (that *Broker) touchPresence(ctx context.Context, channel, clientID string) error {
	err := that.client.ZAdd(ctx, presenceKey(channel), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: clientID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}

	return nil
}

func presenceKey(channel string) string {
	return presenceKeyPrefix + channel
}

// Subscription delivers the messages of its channels in the order Redis delivered them.
type Subscription struct {
	logger   *slog.Logger
	ps       *redis.PubSub
	messages chan Message

	once sync.Once
	done chan struct{}
}

func (that *Subscription) Messages() <-chan Message {
	return that.messages
}

// Add subscribes to more channels.
func (that *Subscription) Add(ctx context.Context, channels ...string) error {
	select {
	case <-that.done:
		return ErrSubscriptionClosed
	default:
	}

	if err := that.ps.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

func (that *Subscription) Close() error {
	var err error

	that.once.Do(func() {
		close(that.done)
		err = that.ps.Close()
	})

	if err != nil {
		return fmt.Errorf("failed to close subscription: %w", err)
	}

	return nil
}

func (that *Subscription) forward() {
	log := that.logger.With("method", "forward")

	defer close(that.messages)

	for raw := range that.ps.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			log.Warn("dropping undecodable message", "channel", raw.Channel, "error", err)
			continue
		}

		// the redis channel is authoritative
		msg.Channel = raw.Channel

		select {
		case that.messages <- msg:
		case <-that.done:
			return
		}
	}
}
