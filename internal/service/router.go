package service

import (
	"github.com/rs/zerolog/log"

	apperrors "github.com/remotecast/relay-server-go/internal/errors"
	"github.com/remotecast/relay-server-go/internal/protocol"
	"github.com/remotecast/relay-server-go/internal/store"
	"github.com/remotecast/relay-server-go/internal/util"
)

// Router forwards session messages inside the sender's own session. Nothing
// is buffered: a message for an offline peer is dropped.
type Router struct {
	store *store.Store
}

func NewRouter(st *store.Store) *Router {
	return &Router{store: st}
}

// Route returns how many sockets the message was queued on.
func (r *Router) Route(peer store.Peer, b *Binding, msg *protocol.Message) (int, error) {
	if !b.Bound() {
		return 0, apperrors.SessionNotPaired()
	}

	switch b.Role {
	case protocol.RoleRemote:
		// remoteId always names the sender, whatever the client put there.
		payload, err := msg.WithRemoteID(b.RemoteID)
		if err != nil {
			return 0, apperrors.InvalidInput("remoteId", err.Error())
		}
		if !r.store.RelayFromRemote(b.RemoteID, peer, payload) {
			log.Debug().
				Str("sessionId", b.SessionID).
				Str("remoteId", b.RemoteID).
				Str("type", string(msg.Type)).
				Msg("host offline, message dropped")
			return 0, nil
		}
		return 1, nil

	case protocol.RoleHost:
		target := msg.RemoteID()
		if target != "" && !util.IsValidUUID(target) {
			return 0, apperrors.InvalidInput("remoteId", "must be a UUID")
		}
		n := r.store.RelayFromHost(b.SessionID, peer, target, msg.Raw)
		if n == 0 {
			log.Debug().
				Str("sessionId", b.SessionID).
				Str("target", target).
				Str("type", string(msg.Type)).
				Msg("no online remote, message dropped")
		}
		return n, nil
	}

	return 0, apperrors.SessionNotPaired()
}
