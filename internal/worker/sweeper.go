package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/event"
)

// RunSweeper returns finished rooms to waiting and disconnects silent clients on every tick until ctx is done.
func (that *Processor) RunSweeper(ctx context.Context) error {
	log := that.logger.With("method", "RunSweeper")

	ticker := time.NewTicker(that.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := that.Sweep(ctx); err != nil {
				log.Error("sweep failed", "error", err)
			}

			// reaped clients come back as presence leave messages
			if _, err := that.reaper.ReapStale(ctx, entity.ControlChannelPattern(), that.opts.PresenceGrace); err != nil {
				log.Error("failed to reap stale presence", "error", err)
			}
		}
	}
}

// Sweep resets every room whose finishing deadline has passed and announces GAME_FINISHED.
func (that *Processor) Sweep(ctx context.Context) error {
	log := that.logger.With("method", "Sweep")

	due, err := that.rooms.DueFinishes(ctx, that.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to get due rooms: %w", err)
	}

	var errs []error
	for _, roomID := range due {
		if err = that.finish(ctx, roomID); err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", roomID, err))
			continue
		}

		log.Debug("room finished", "roomID", roomID)
	}

	return errors.Join(errs...)
}

func (that *Processor) finish(ctx context.Context, roomID string) error {
	_, err := that.rooms.Update(ctx, roomID, that.opts.ActiveTTL, func(room *entity.Room) error {
		if !room.IsFinishing() {
			return errNothingToDo
		}

		return room.Reset()
	})

	switch {
	case err == nil:
		if err = that.broadcast(ctx, roomID, event.GameFinished{}); err != nil {
			return err
		}
	case errors.Is(err, errNothingToDo), errors.Is(err, apperror.ErrNotFound):
	default:
		return fmt.Errorf("failed to reset room: %w", err)
	}

	if err = that.rooms.Unschedule(ctx, roomID); err != nil {
		return fmt.Errorf("failed to unschedule room: %w", err)
	}

	return nil
}
