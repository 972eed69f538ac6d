package realtime

import (
	"context"
	"log"

	"chat-client/internal/backend"
	"chat-client/internal/feed"
	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/store"
	"chat-client/internal/telemetry"
)

// Reconciler folds realtime feed events into a conversation's message
// store. The feed is at-least-once, so every event is applied
// idempotently: inserts are dropped when the id is already present or
// was already reconciled by the local writer, deletes of absent ids are
// no-ops.
type Reconciler struct {
	store    *store.Store
	registry *store.Registry
	svc      backend.WriteService
	emitter  *telemetry.Emitter
}

// New builds a reconciler over one conversation's store. The registry is
// shared with the optimistic writer so locally-acknowledged writes can
// be recognized when the feed echoes them back.
func New(st *store.Store, reg *store.Registry, svc backend.WriteService, emitter *telemetry.Emitter) *Reconciler {
	return &Reconciler{store: st, registry: reg, svc: svc, emitter: emitter}
}

// Run drains the subscription until it closes or the context ends. A
// terminal subscription error is reported through telemetry; the store
// keeps its last-known state either way.
func (r *Reconciler) Run(ctx context.Context, conversationID int64, sub *feed.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					log.Printf("reconciler: feed ended for conversation %d: %v", conversationID, err)
					r.emitter.Emit(ctx, telemetry.SyncEvent{
						Kind:           telemetry.KindFeedError,
						ConversationID: conversationID,
						Reason:         err.Error(),
					})
				}
				return
			}
			r.Apply(ctx, ev)
		}
	}
}

// Apply folds a single feed event into the store.
func (r *Reconciler) Apply(ctx context.Context, ev models.Event) {
	switch ev.Type {
	case models.EventInsert:
		r.applyInsert(ctx, ev)
	case models.EventDelete:
		r.applyDelete(ev)
	default:
		log.Printf("reconciler: ignoring unknown event type %q", ev.Type)
		observability.IncReconcile("unknown", "dropped")
	}
}

func (r *Reconciler) applyInsert(ctx context.Context, ev models.Event) {
	if ev.Message == nil {
		log.Printf("reconciler: insert event without record")
		observability.IncReconcile("insert", "malformed")
		return
	}

	msg := *ev.Message
	serverID, ok := msg.ID.Server()
	if !ok {
		log.Printf("reconciler: insert event without server id")
		observability.IncReconcile("insert", "malformed")
		return
	}

	// A self-echo: the optimistic writer already swapped the placeholder
	// to this server id, so the record is present under a possibly newer
	// local state. Applying the echo would clobber it.
	if r.registry.Seen(serverID) {
		observability.IncReconcile("insert", "self_echo")
		return
	}

	if r.store.Contains(msg.ID) {
		observability.IncReconcile("insert", "duplicate")
		return
	}

	if msg.SenderName == "" && r.svc != nil {
		name, err := r.svc.SenderName(ctx, msg.SenderID)
		if err != nil {
			log.Printf("reconciler: sender name lookup failed for user %d: %v", msg.SenderID, err)
		} else {
			msg.SenderName = name
		}
	}

	msg.Status = models.StatusSent
	msg.Placeholder = false
	r.store.Upsert(msg)
	observability.IncReconcile("insert", "applied")
}

func (r *Reconciler) applyDelete(ev models.Event) {
	if ev.MessageID.IsZero() {
		observability.IncReconcile("delete", "malformed")
		return
	}
	if r.store.RemoveByID(ev.MessageID) {
		observability.IncReconcile("delete", "removed")
		return
	}
	observability.IncReconcile("delete", "noop")
}
