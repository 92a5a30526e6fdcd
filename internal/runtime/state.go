package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// turnState is everything a turn reads and mutates before it commits.
type turnState struct {
	turn    domain.ConversationTurn
	now     time.Time
	logger  *slog.Logger
	convKey string
	userKey string
	convOld domain.Record
	userOld domain.Record
	scopes  *Scopes
	stack   domain.DialogStack
	outbox  []domain.Activity
	intent  string
	rule    string
}

func (e *Engine) loadTurnState(ctx context.Context, turn domain.ConversationTurn, logger *slog.Logger) (*turnState, error) {
	ts := &turnState{
		turn:    turn,
		now:     e.clock(),
		logger:  logger,
		convKey: turn.ConversationKey(),
	}
	if turn.From.ID != "" {
		ts.userKey = turn.UserKey()
	}

	var err error
	if ts.convOld, err = loadRecord(ctx, e.store, ts.convKey); err != nil {
		return nil, err
	}
	if ts.userKey != "" {
		if ts.userOld, err = loadRecord(ctx, e.store, ts.userKey); err != nil {
			return nil, err
		}
	}

	conv, err := normalizeMap(ts.convOld.Public())
	if err != nil {
		return nil, fmt.Errorf("conversation record: %w", err)
	}
	user, err := normalizeMap(ts.userOld.Public())
	if err != nil {
		return nil, fmt.Errorf("user record: %w", err)
	}
	ts.scopes = NewScopes(conv, user)

	ts.stack, err = decodeStack(ts.convOld[domain.KeyStack])
	if err != nil {
		// A stack we cannot read would wedge the conversation forever; start over instead.
		logger.Error("discarding unreadable dialog stack", "err", err)
		ts.stack = nil
	}
	return ts, nil
}

func loadRecord(ctx context.Context, store ports.StateStore, id string) (domain.Record, error) {
	rec, err := store.Load(ctx, id)
	if errors.Is(err, domain.ErrStateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return rec, nil
}

// diffs computes the change set of the turn for both persisted records.
func (ts *turnState) diffs() ([]domain.StateDiff, error) {
	var out []domain.StateDiff

	conv, err := normalizeMap(ts.scopes.Snapshot(domain.ScopeConversation))
	if err != nil {
		return nil, fmt.Errorf("conversation scope: %w", err)
	}
	keepReserved(conv, ts.convOld)
	delete(conv, domain.KeyStack)
	if len(ts.stack) > 0 {
		encoded, err := encodeStack(ts.stack)
		if err != nil {
			return nil, err
		}
		conv[domain.KeyStack] = encoded
	}
	if d := domain.Diff(ts.convKey, ts.convOld, conv); d != nil {
		out = append(out, *d)
	}

	if ts.userKey != "" {
		user, err := normalizeMap(ts.scopes.Snapshot(domain.ScopeUser))
		if err != nil {
			return nil, fmt.Errorf("user scope: %w", err)
		}
		keepReserved(user, ts.userOld)
		if d := domain.Diff(ts.userKey, ts.userOld, user); d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

// keepReserved carries engine-owned keys of the old record into the new one.
func keepReserved(next map[string]any, old domain.Record) {
	for k, v := range old {
		if domain.IsReservedKey(k) {
			next[k] = v
		}
	}
}

// reply queues an outbound message addressed to the sender of the turn.
func (ts *turnState) reply(text string, attachments ...domain.Attachment) {
	ts.outbox = append(ts.outbox, domain.Activity{
		ID:             uuid.NewString(),
		Type:           domain.TurnMessage,
		ConversationID: ts.turn.ConversationID,
		ReplyToID:      ts.turn.ID,
		Recipient:      ts.turn.From,
		Text:           text,
		Attachments:    attachments,
	})
}

func (ts *turnState) nowMs() int64 { return ts.now.UnixMilli() }

// normalizeMap deep-copies m through JSON, so values compare equal to what a store returns.
func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	if len(m) == 0 {
		return out, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeStack(stack domain.DialogStack) ([]any, error) {
	v, err := normalizeValue(stack)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptStack, err)
	}
	list, _ := v.([]any)
	return list, nil
}

func decodeStack(raw any) (domain.DialogStack, error) {
	if raw == nil {
		return nil, nil
	}
	var stack domain.DialogStack
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &stack,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptStack, err)
	}
	return stack, nil
}
