package websocket

import (
	"context"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/capability"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/pubsub"
)

var (
	ErrNotPermitted = errors.New("operation not permitted on channel")
	ErrRateLimited  = errors.New("too many messages")
)

func (that *Server) handleSubscribe(ctx context.Context, conn *connection, msg pubsub.Message) error {
	if err := authorize(conn.grant, msg.Channel, capability.OpSubscribe); err != nil {
		return err
	}

	if err := conn.subscribe(ctx, msg.Channel); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

// handlePublish forwards a client message. The sender is always the credential holder.
func (that *Server) handlePublish(ctx context.Context, conn *connection, msg pubsub.Message) error {
	if err := authorize(conn.grant, msg.Channel, capability.OpPublish); err != nil {
		return err
	}

	if !conn.limiter.Allow() {
		return ErrRateLimited
	}

	forwarded := pubsub.Message{
		Action:   pubsub.ActionMessage,
		ClientID: conn.grant.ClientID,
		Name:     msg.Name,
		Data:     msg.Data,
	}

	if err := that.broker.Publish(ctx, msg.Channel, forwarded); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	return nil
}

func (that *Server) handleEnter(ctx context.Context, conn *connection, msg pubsub.Message) error {
	if err := authorize(conn.grant, msg.Channel, capability.OpPresence); err != nil {
		return err
	}

	if err := that.broker.Enter(ctx, msg.Channel, conn.grant.ClientID); err != nil {
		return fmt.Errorf("failed to enter presence: %w", err)
	}

	conn.enter(msg.Channel)

	return nil
}

func (that *Server) handleLeave(ctx context.Context, conn *connection, msg pubsub.Message) error {
	if err := authorize(conn.grant, msg.Channel, capability.OpPresence); err != nil {
		return err
	}

	conn.leave(msg.Channel)

	if err := that.broker.Leave(ctx, msg.Channel, conn.grant.ClientID); err != nil {
		return fmt.Errorf("failed to leave presence: %w", err)
	}

	return nil
}

func authorize(grant *capability.Grant, channel string, op capability.Operation) error {
	if !grant.Allows(channel, op) {
		return fmt.Errorf("%w: %s on %q", ErrNotPermitted, op, channel)
	}

	return nil
}
