package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// ErrIncompleteEvent is returned when an event lacks the data its counter
// mutations need.
var ErrIncompleteEvent = errors.New("event data incomplete")

// Policy derives counter mutations from stored events.
type Policy struct {
	engine *Engine
}

// NewPolicy returns a Policy applying mutations through engine.
func NewPolicy(engine *Engine) *Policy {
	return &Policy{engine: engine}
}

// ApplyEvent applies the counter mutations implied by e. Mutations of one
// user share the batch keyed by e's event id; every touched batch is
// finalized before returning. A failed mutation does not stop the others.
func (p *Policy) ApplyEvent(ctx context.Context, e *model.Event) error {
	data, err := e.ParseData()
	if err != nil {
		return err
	}

	a := &application{p: p, e: e, data: data, src: SourceFromEvent(e), touched: map[string]bool{}}
	switch e.EventType {
	case model.EventDialogCreate:
		a.dialogCreate(ctx)
	case model.EventDialogMemberAdd:
		a.memberChange(ctx, 1)
	case model.EventDialogMemberRemove:
		a.memberChange(ctx, -1)
	case model.EventMessageCreate:
		a.messageCreate(ctx)
	case model.EventMessageStatusUpdate:
		a.statusUpdate(ctx)
	case model.EventMessageReactionUpdate:
		a.reactionUpdate(ctx)
	default:
		return nil
	}

	a.finalize(ctx)
	return errors.Join(a.errs...)
}

// application is the state of one ApplyEvent call.
type application struct {
	p       *Policy
	e       *model.Event
	data    *model.EventData
	src     Source
	touched map[string]bool
	errs    []error
}

func (a *application) fail(err error) {
	if err != nil {
		a.errs = append(a.errs, err)
	}
}

func (a *application) incomplete(section string) {
	a.fail(fmt.Errorf("%s %s: missing %s: %w", a.e.EventType, a.e.EventID, section, ErrIncompleteEvent))
}

func (a *application) dialogID() string {
	if a.data.Dialog != nil && a.data.Dialog.ID != "" {
		return a.data.Dialog.ID
	}
	return a.e.EntityID
}

func (a *application) dialogCreate(ctx context.Context) {
	members, err := a.p.engine.dir.ListDialogMembers(ctx, a.e.TenantID, a.dialogID())
	if err != nil {
		a.fail(fmt.Errorf("list members: %w", err))
		return
	}
	for _, m := range members {
		a.touched[m.UserID] = true
		_, err := a.p.engine.IncrementDialogs(ctx, a.e.TenantID, m.UserID, userType(m.UserType), 1, a.src)
		a.fail(err)
	}
}

// memberChange moves the member's dialog count. A removed member also loses
// whatever unread count it had in the dialog.
func (a *application) memberChange(ctx context.Context, delta int64) {
	m := a.data.Member
	if m == nil || m.UserID == "" {
		a.incomplete(model.SectionMember)
		return
	}
	ut := userType(m.UserType)
	a.touched[m.UserID] = true
	_, err := a.p.engine.IncrementDialogs(ctx, a.e.TenantID, m.UserID, ut, delta, a.src)
	a.fail(err)
	if delta > 0 {
		return
	}

	dialogID := a.dialogID()
	stats, err := a.p.engine.store.ListUserDialogStats(ctx, a.e.TenantID, m.UserID)
	if err != nil {
		a.fail(fmt.Errorf("list dialog stats: %w", err))
		return
	}
	for _, d := range stats {
		if d.DialogID == dialogID && d.UnreadCount > 0 {
			_, err := a.p.engine.IncrementUnread(ctx, a.e.TenantID, m.UserID, ut, dialogID, -d.UnreadCount, a.src)
			a.fail(err)
		}
	}
}

func (a *application) messageCreate(ctx context.Context) {
	msg, err := a.message(ctx)
	if err != nil {
		a.fail(err)
		return
	}
	members, err := a.p.engine.dir.ListDialogMembers(ctx, a.e.TenantID, msg.DialogID)
	if err != nil {
		a.fail(fmt.Errorf("list members: %w", err))
		return
	}
	for _, m := range members {
		if m.UserID == msg.SenderID {
			continue
		}
		a.touched[m.UserID] = true
		_, err := a.p.engine.IncrementUnread(ctx, a.e.TenantID, m.UserID, userType(m.UserType), msg.DialogID, 1, a.src)
		a.fail(err)
	}
	if msg.SenderID != "" {
		a.touched[msg.SenderID] = true
		_, err := a.p.engine.IncrementMessages(ctx, a.e.TenantID, msg.SenderID, userType(msg.SenderType), 1, a.src)
		a.fail(err)
	}
}

func (a *application) statusUpdate(ctx context.Context) {
	st := a.data.Status
	if st == nil || st.UserID == "" || st.Status == "" {
		a.incomplete("status")
		return
	}
	if st.Prev == st.Status {
		return
	}
	messageID := a.messageID()

	_, err := a.p.engine.IncrementStatus(ctx, a.e.TenantID, messageID, st.Status, 1, a.src)
	a.fail(err)
	if st.Prev != "" {
		_, err := a.p.engine.IncrementStatus(ctx, a.e.TenantID, messageID, st.Prev, -1, a.src)
		a.fail(err)
	}
	if st.Status != model.StatusRead {
		return
	}

	msg, err := a.message(ctx)
	if err != nil {
		a.fail(err)
		return
	}
	if msg.SenderID == st.UserID {
		return
	}
	a.touched[st.UserID] = true
	_, err = a.p.engine.IncrementUnread(ctx, a.e.TenantID, st.UserID, a.memberType(ctx, msg.DialogID, st.UserID), msg.DialogID, -1, a.src)
	a.fail(err)
}

func (a *application) reactionUpdate(ctx context.Context) {
	r := a.data.Reaction
	if r == nil || r.Reaction == "" {
		a.incomplete("reaction")
		return
	}
	delta := int64(1)
	if r.Removed {
		delta = -1
	}
	_, err := a.p.engine.IncrementReaction(ctx, a.e.TenantID, a.messageID(), r.Reaction, delta, a.src)
	a.fail(err)
}

// messageID prefers the id in the message snapshot over the event's entity.
func (a *application) messageID() string {
	if a.data.Message != nil && a.data.Message.ID != "" {
		return a.data.Message.ID
	}
	return a.e.EntityID
}

// message returns the event's message snapshot, falling back to the primary
// record when the snapshot is absent.
func (a *application) message(ctx context.Context) (*model.MessageSnapshot, error) {
	if m := a.data.Message; m != nil && m.DialogID != "" {
		return m, nil
	}
	rec, err := a.p.engine.dir.GetMessage(ctx, a.e.TenantID, a.e.EntityID)
	if err != nil {
		return nil, fmt.Errorf("%s %s: load message %s: %w", a.e.EventType, a.e.EventID, a.e.EntityID, err)
	}
	return &model.MessageSnapshot{
		ID:         rec.ID,
		DialogID:   rec.DialogID,
		SenderID:   rec.SenderID,
		SenderType: rec.SenderType,
	}, nil
}

func (a *application) memberType(ctx context.Context, dialogID, userID string) string {
	members, err := a.p.engine.dir.ListDialogMembers(ctx, a.e.TenantID, dialogID)
	if err == nil {
		for _, m := range members {
			if m.UserID == userID {
				return userType(m.UserType)
			}
		}
	}
	return model.DefaultUserType
}

// finalize closes the batch of every touched user in a stable order.
func (a *application) finalize(ctx context.Context) {
	reg := a.p.engine.batches
	if reg == nil {
		return
	}
	users := make([]string, 0, len(a.touched))
	for u := range a.touched {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		_, err := reg.Finalize(ctx, BatchKey{TenantID: a.e.TenantID, UserID: u, EventID: a.e.EventID})
		a.fail(err)
	}
}

func userType(t string) string {
	if t == "" {
		return model.DefaultUserType
	}
	return t
}
