// Package fanout turns stored events into per-recipient Updates and
// delivers them through the broker.
package fanout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/alfredjeanlab/chatd/internal/model"
	"github.com/alfredjeanlab/chatd/internal/store"
)

// ErrMissingSection is returned when an event lacks a section its update
// type requires and the section cannot be rebuilt.
var ErrMissingSection = errors.New("missing mandatory section")

// DefaultTypingExpiry is used when a typing snapshot omits its expiry.
const DefaultTypingExpiry = 5 * time.Second

// Builder computes recipients and Update payloads. It never writes.
type Builder struct {
	dir store.Directory
	log *slog.Logger
}

// NewBuilder returns a Builder reading membership and legacy records from dir.
func NewBuilder(dir store.Directory, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{dir: dir, log: logger.With("component", "fanout")}
}

// recipient is one addressee of an update.
type recipient struct {
	userID   string
	userType string
}

// build is the state of one Build call.
type build struct {
	b        *Builder
	e        *model.Event
	data     *model.EventData
	profiles *dataloader.Loader
}

// Build returns one Update per recipient of e. The returned Updates are not
// persisted. Either every recipient gets an Update or an error is returned.
func (b *Builder) Build(ctx context.Context, e *model.Event) ([]*model.Update, error) {
	data, err := e.ParseData()
	if err != nil {
		return nil, err
	}
	bc := &build{b: b, e: e, data: data, profiles: newProfileLoader(b.dir, e.TenantID)}

	var (
		out      model.UpdateData
		dialogID string
		rcpts    []recipient
	)
	switch e.EventType {
	case model.EventDialogCreate, model.EventDialogUpdate, model.EventDialogDelete,
		model.EventDialogMemberAdd, model.EventDialogMemberRemove:
		dialogID, rcpts, err = bc.dialogLevel(ctx, &out)
	case model.EventDialogMemberUpdate:
		dialogID, rcpts, err = bc.memberUpdate(&out)
	case model.EventMessageCreate, model.EventMessageUpdate,
		model.EventMessageReactionUpdate, model.EventMessageStatusUpdate:
		dialogID, rcpts, err = bc.messageLevel(ctx, &out)
	case model.EventDialogTyping:
		dialogID, rcpts, err = bc.typing(ctx, &out)
	case model.EventUserAdd, model.EventUserUpdate, model.EventUserRemove:
		rcpts, err = bc.userLevel(&out)
	default:
		return nil, fmt.Errorf("no fan-out rule for event type %q", e.EventType)
	}
	if err != nil {
		return nil, err
	}

	out.Context = model.UpdateContext{
		EventType:     e.EventType,
		EntityID:      e.EntityID,
		Sections:      sections(&out),
		ChangedFields: data.Changes,
	}
	updates := make([]*model.Update, 0, len(rcpts))
	for _, r := range rcpts {
		updates = append(updates, &model.Update{
			TenantID:  e.TenantID,
			UserID:    r.userID,
			UserType:  r.userType,
			DialogID:  dialogID,
			EntityID:  e.EntityID,
			EventID:   e.EventID,
			EventType: e.EventType,
			Data:      out,
		})
	}
	return updates, nil
}

func (bc *build) missing(section string) error {
	return fmt.Errorf("%s %s: %s: %w", bc.e.EventType, bc.e.EventID, section, ErrMissingSection)
}

// dialogLevel addresses every member. A removed member is no longer in the
// membership lookup but still learns of its removal.
func (bc *build) dialogLevel(ctx context.Context, out *model.UpdateData) (string, []recipient, error) {
	d := bc.data.Dialog
	if d == nil {
		return "", nil, bc.missing(model.SectionDialog)
	}
	dialogID := d.ID
	if dialogID == "" {
		dialogID = bc.e.EntityID
	}
	out.Dialog = d

	isMemberEvent := bc.e.EventType == model.EventDialogMemberAdd || bc.e.EventType == model.EventDialogMemberRemove
	if isMemberEvent {
		if bc.data.Member == nil || bc.data.Member.UserID == "" {
			return "", nil, bc.missing(model.SectionMember)
		}
		out.Member = bc.data.Member
	}

	rcpts, err := bc.members(ctx, dialogID)
	if err != nil {
		return "", nil, err
	}
	if isMemberEvent {
		rcpts = appendUnique(rcpts, recipient{userID: out.Member.UserID, userType: userType(out.Member.UserType)})
	}
	return dialogID, rcpts, nil
}

func (bc *build) memberUpdate(out *model.UpdateData) (string, []recipient, error) {
	m := bc.data.Member
	if m == nil || m.UserID == "" {
		return "", nil, bc.missing(model.SectionMember)
	}
	out.Member = m
	out.Dialog = bc.data.Dialog
	dialogID := bc.e.EntityID
	if out.Dialog != nil && out.Dialog.ID != "" {
		dialogID = out.Dialog.ID
	}
	return dialogID, []recipient{{userID: m.UserID, userType: userType(m.UserType)}}, nil
}

func (bc *build) messageLevel(ctx context.Context, out *model.UpdateData) (string, []recipient, error) {
	if bc.data.Dialog == nil {
		return "", nil, bc.missing(model.SectionDialog)
	}
	msg := bc.data.Message
	if msg == nil {
		rebuilt, err := bc.rebuildMessage(ctx)
		if err != nil {
			return "", nil, err
		}
		msg = rebuilt
	}
	if msg.DialogID == "" {
		return "", nil, bc.missing(model.SectionMessage)
	}
	out.Message = msg
	out.Dialog = bc.data.Dialog

	rcpts, err := bc.members(ctx, msg.DialogID)
	if err != nil {
		return "", nil, err
	}
	return msg.DialogID, rcpts, nil
}

// rebuildMessage assembles the message section of a legacy event that
// carries no snapshot: the primary record, its statuses and the sender's
// profile.
func (bc *build) rebuildMessage(ctx context.Context) (*model.MessageSnapshot, error) {
	rec, err := bc.b.dir.GetMessage(ctx, bc.e.TenantID, bc.e.EntityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bc.missing(model.SectionMessage)
	}
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", bc.e.EntityID, err)
	}
	statuses, err := bc.b.dir.ListMessageStatuses(ctx, bc.e.TenantID, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("load statuses of %s: %w", rec.ID, err)
	}
	sender, err := loadProfile(ctx, bc.profiles, rec.SenderID)
	if err != nil {
		return nil, fmt.Errorf("load sender %s: %w", rec.SenderID, err)
	}
	bc.b.log.Debug("rebuilt legacy message section", "event_id", bc.e.EventID, "message_id", rec.ID)
	return &model.MessageSnapshot{
		ID:         rec.ID,
		DialogID:   rec.DialogID,
		SenderID:   rec.SenderID,
		SenderType: rec.SenderType,
		Type:       rec.Type,
		Content:    rec.Content,
		Meta:       rec.Meta,
		Statuses:   statuses,
		Sender:     sender,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}, nil
}

// typing addresses every member except the typist.
func (bc *build) typing(ctx context.Context, out *model.UpdateData) (string, []recipient, error) {
	if bc.data.Dialog == nil {
		return "", nil, bc.missing(model.SectionDialog)
	}
	snap := bc.data.Typing
	if snap == nil {
		return "", nil, bc.missing(model.SectionTyping)
	}
	t := *snap
	if t.UserID == "" {
		t.UserID = bc.e.ActorID
	}
	if t.UserID == "" {
		return "", nil, bc.missing(model.SectionTyping)
	}
	if t.ExpiresInMs <= 0 {
		t.ExpiresInMs = DefaultTypingExpiry.Milliseconds()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = bc.e.CreatedAt
	}
	if t.Profile == nil {
		// The profile is optional; a failed lookup only drops it.
		p, err := loadProfile(ctx, bc.profiles, t.UserID)
		if err != nil {
			bc.b.log.Warn("loading typing profile", "user_id", t.UserID, "error", err)
		}
		t.Profile = p
	}
	out.Typing = &t

	dialogID := bc.data.Dialog.ID
	if dialogID == "" {
		dialogID = bc.e.EntityID
	}
	members, err := bc.members(ctx, dialogID)
	if err != nil {
		return "", nil, err
	}
	rcpts := members[:0]
	for _, r := range members {
		if r.userID != t.UserID {
			rcpts = append(rcpts, r)
		}
	}
	return dialogID, rcpts, nil
}

func (bc *build) userLevel(out *model.UpdateData) ([]recipient, error) {
	u := bc.data.User
	if u == nil {
		return nil, bc.missing(model.SectionUser)
	}
	id := u.UserID
	if id == "" {
		id = bc.e.EntityID
	}
	out.User = &model.UserSection{
		UserID:   id,
		UserType: userType(u.UserType),
		Name:     u.Name,
		Avatar:   u.Avatar,
		Meta:     u.Meta,
	}
	return []recipient{{userID: id, userType: out.User.UserType}}, nil
}

func (bc *build) members(ctx context.Context, dialogID string) ([]recipient, error) {
	ms, err := bc.b.dir.ListDialogMembers(ctx, bc.e.TenantID, dialogID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", dialogID, err)
	}
	out := make([]recipient, 0, len(ms))
	for _, m := range ms {
		out = appendUnique(out, recipient{userID: m.UserID, userType: userType(m.UserType)})
	}
	return out, nil
}

func appendUnique(rs []recipient, r recipient) []recipient {
	for _, x := range rs {
		if x.userID == r.userID {
			return rs
		}
	}
	return append(rs, r)
}

// sections lists the populated sections in a fixed order.
func sections(d *model.UpdateData) []string {
	var out []string
	if d.Dialog != nil {
		out = append(out, model.SectionDialog)
	}
	if d.Member != nil {
		out = append(out, model.SectionMember)
	}
	if d.Message != nil {
		out = append(out, model.SectionMessage)
	}
	if d.Typing != nil {
		out = append(out, model.SectionTyping)
	}
	if d.User != nil {
		out = append(out, model.SectionUser)
	}
	return out
}

func userType(t string) string {
	if t == "" {
		return model.DefaultUserType
	}
	return t
}
