package updater

import (
	"context"
	"errors"
	"log/slog"

	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/kafka"
)

// Command is a request read from the update-requests topic.
type Command struct {
	Op  string   `json:"op"`
	IDs []string `json:"ids"`
}

// HandleCommands returns a Kafka handler that applies update commands.
// Malformed commands and structures that cannot be loaded are permanent
// failures; everything else is left for redelivery.
func HandleCommands(u *Updater) kafka.MessageHandler {
	logger := slog.Default().With("component", "update-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		cmd, err := kafka.DecodeJSON[Command](value)
		if err != nil {
			logger.Error("failed to decode update command", "key", string(key), "error", err)
			return err
		}
		logger.Debug("processing update command", "op", cmd.Op, "ids", len(cmd.IDs))

		switch cmd.Op {
		case "add":
			_, err = u.Add(ctx, cmd.IDs)
		case "remove":
			_, err = u.Remove(ctx, cmd.IDs)
		case "recover":
			_, err = u.Recover(ctx)
		default:
			return kafka.Permanent(apperrors.Newf(apperrors.ErrInvalidInput, "unknown update op %q", cmd.Op))
		}
		if err != nil && permanent(err) {
			return kafka.Permanent(err)
		}
		return err
	}
}

func permanent(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, apperrors.ErrUnknownStructure)
}
