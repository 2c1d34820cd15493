package router

import (
	"context"
	"log/slog"

	"github.com/taskwire/taskwire/internal/store"
)

// MembershipGate decides, at join time, whether a user may subscribe to a
// room's broadcast scope. It is backed by the persisted room membership and
// fails closed: a lookup error denies the join.
type MembershipGate struct {
	rooms  store.RoomStore
	logger *slog.Logger
}

func NewMembershipGate(rooms store.RoomStore, logger *slog.Logger) *MembershipGate {
	return &MembershipGate{
		rooms:  rooms,
		logger: logger.With(slog.String("component", "membership_gate")),
	}
}

func (g *MembershipGate) AuthorizeJoin(ctx context.Context, userID, roomID string) bool {
	ok, err := g.rooms.IsUserInRoom(ctx, userID, roomID)
	if err != nil {
		g.logger.Error("Membership lookup failed; denying join",
			slog.String("userID", userID),
			slog.String("roomID", roomID),
			slog.Any("error", err),
		)
		return false
	}
	return ok
}
