package service

import (
	"context"
	"testing"
	"time"

	"consultchat/module/chat/model"
	"consultchat/tools/errs"
)

func testUsers() []model.User {
	return []model.User{
		{UserID: "u1", Username: "alice", DisplayName: "Dr. Alice", OrganizationID: "org1", LocationID: "loc1"},
		{UserID: "u2", Username: "bob", DisplayName: "Dr. Bob", OrganizationID: "org1", LocationID: "loc1"},
		{UserID: "u3", Username: "carol", DisplayName: "Nurse Carol", OrganizationID: "org1", LocationID: "loc1"},
	}
}

func newTestService() (*ChatService, *memConvs, *memMsgs, *memInbox, *memMarks) {
	convs := newMemConvs()
	msgs := newMemMsgs()
	inbox := newMemInbox()
	marks := newMemMarks()
	proj := NewProjector(inbox, marks)
	proj.backoff = time.Millisecond
	svc := NewChatService(convs, msgs, inbox, newMemDirectory(testUsers()...), proj)
	return svc, convs, msgs, inbox, marks
}

func TestCreateDirectIdempotentAcrossOrder(t *testing.T) {
	svc, _, _, inbox, _ := newTestService()
	ctx := context.Background()

	conv, created, err := svc.CreateDirect(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("expected first call to create")
	}

	again, created, err := svc.CreateDirect(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("reversed pair must reuse the conversation")
	}
	if again.ID != conv.ID {
		t.Fatalf("got %s, want %s", again.ID.Hex(), conv.ID.Hex())
	}

	row, err := inbox.RowFor(ctx, "u1", conv.ID.Hex())
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if row.DirectMessage == nil || row.DirectMessage.OtherParticipantID != "u2" {
		t.Fatalf("u1's row must point at u2, got %+v", row.DirectMessage)
	}
	if row.DirectMessage.OtherParticipantName != "Dr. Bob" {
		t.Fatalf("counterpart name = %q", row.DirectMessage.OtherParticipantName)
	}
}

func TestCreateDirectRejectsSelfAndUnknown(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	if _, _, err := svc.CreateDirect(ctx, "u1", "u1"); !errs.IsValidationFailed(err) {
		t.Fatalf("self pair: got %v, want validation failure", err)
	}
	if _, _, err := svc.CreateDirect(ctx, "u1", "ghost"); !errs.IsNotFound(err) {
		t.Fatalf("unknown user: got %v, want not found", err)
	}
}

func TestCreateGroupRolesAndUnitUniqueness(t *testing.T) {
	svc, _, _, inbox, _ := newTestService()
	ctx := context.Background()

	conv, err := svc.CreateGroup(ctx, "u1", "ICU West", "", []string{"u2", "u3"}, "org1", "loc1", "unit9")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if len(conv.Participants) != 3 {
		t.Fatalf("participants = %d, want 3", len(conv.Participants))
	}
	for _, p := range conv.Participants {
		want := model.RoleMember
		if p.UserID == "u1" {
			want = model.RoleOwner
		}
		if p.Role != want {
			t.Fatalf("role of %s = %s, want %s", p.UserID, p.Role, want)
		}
	}

	again, err := svc.CreateGroup(ctx, "u2", "Other Name", "", []string{"u1"}, "org1", "loc1", "unit9")
	if err != nil {
		t.Fatalf("second unit group: %v", err)
	}
	if again.ID != conv.ID {
		t.Fatal("unit must map to a single group conversation")
	}

	row, err := inbox.RowFor(ctx, "u3", conv.ID.Hex())
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if row.GroupChat == nil || row.GroupChat.MemberCount != 3 || row.GroupChat.MyRole != model.RoleMember {
		t.Fatalf("group info = %+v", row.GroupChat)
	}
}

func TestCreateGroupUnknownMember(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	if _, err := svc.CreateGroup(context.Background(), "u1", "X", "", []string{"ghost"}, "", "", ""); !errs.IsValidationFailed(err) {
		t.Fatalf("got %v, want validation failure", err)
	}
}

func TestAppendMessageFanOut(t *testing.T) {
	svc, _, _, inbox, _ := newTestService()
	ctx := context.Background()

	conv, err := svc.CreateGroup(ctx, "u1", "Team", "", []string{"u2", "u3"}, "", "", "")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	convID := conv.ID.Hex()

	msg, err := svc.AppendMessage(ctx, AppendInput{ConversationID: convID, SenderID: "u1", Content: "rounds at 9"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.SenderName != "Dr. Alice" {
		t.Fatalf("sender name = %q", msg.SenderName)
	}

	if _, err := svc.AppendMessage(ctx, AppendInput{ConversationID: convID, SenderID: "u2", Content: "ack"}); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	// u1 sent 1, received 1; u2 sent 1, received 1; u3 received 2
	for user, want := range map[string]int{"u1": 1, "u2": 1, "u3": 2} {
		row, err := inbox.RowFor(ctx, user, convID)
		if err != nil {
			t.Fatalf("row %s: %v", user, err)
		}
		if row.UnreadCount != want {
			t.Fatalf("unread of %s = %d, want %d", user, row.UnreadCount, want)
		}
		if row.LastMessage == nil || row.LastMessage.Content != "ack" {
			t.Fatalf("last message of %s = %+v", user, row.LastMessage)
		}
	}

	total, err := svc.UnreadTotal(ctx, "u3")
	if err != nil {
		t.Fatalf("unread total: %v", err)
	}
	if total != 2 {
		t.Fatalf("unread total = %d, want 2", total)
	}
}

func TestAppendMessageRejections(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	conv, _, err := svc.CreateDirect(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	convID := conv.ID.Hex()

	if _, err := svc.AppendMessage(ctx, AppendInput{ConversationID: convID, SenderID: "u3", Content: "hi"}); !errs.IsPermissionDenied(err) {
		t.Fatalf("outsider append: got %v, want permission denied", err)
	}
	if _, err := svc.AppendMessage(ctx, AppendInput{ConversationID: convID, SenderID: "u1"}); !errs.IsValidationFailed(err) {
		t.Fatalf("empty content: got %v, want validation failure", err)
	}

	other, err := svc.CreateGroup(ctx, "u1", "Elsewhere", "", []string{"u2"}, "", "", "")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	parent, err := svc.AppendMessage(ctx, AppendInput{ConversationID: other.ID.Hex(), SenderID: "u1", Content: "root"})
	if err != nil {
		t.Fatalf("parent: %v", err)
	}
	if _, err := svc.AppendMessage(ctx, AppendInput{ConversationID: convID, SenderID: "u1", Content: "re", ReplyTo: parent.ID.Hex()}); !errs.IsNotFound(err) {
		t.Fatalf("cross-conversation reply: got %v, want not found", err)
	}
}

func TestAppendMessageSurvivesProjectionInterruption(t *testing.T) {
	svc, _, msgs, inbox, _ := newTestService()

	conv, _, err := svc.CreateDirect(context.Background(), "u1", "u2")
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	convID := conv.ID.Hex()

	// transient store failure plus a caller that has already gone away
	inbox.incrementFail = 1
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, err := svc.AppendMessage(ctx, AppendInput{ConversationID: convID, SenderID: "u1", Content: "hello"})
	if err != nil {
		t.Fatalf("append must succeed once the message is committed: %v", err)
	}
	if _, err := msgs.FindByID(context.Background(), msg.ID.Hex()); err != nil {
		t.Fatalf("message missing from the log: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		row, err := inbox.RowFor(context.Background(), "u2", convID)
		if err != nil {
			t.Fatalf("row: %v", err)
		}
		if row.UnreadCount == 1 && row.LastMessage != nil && row.LastMessage.MessageID == msg.ID.Hex() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("projection never caught up: %+v", row)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	svc, _, _, inbox, _ := newTestService()
	ctx := context.Background()

	conv, _, err := svc.CreateDirect(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	convID := conv.ID.Hex()
	for i := 0; i < 3; i++ {
		if _, err := svc.AppendMessage(ctx, AppendInput{ConversationID: convID, SenderID: "u1", Content: "m"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, _, err := svc.MarkRead(ctx, "u2", convID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 3 {
		t.Fatalf("receipts = %d, want 3", n)
	}

	n, _, err = svc.MarkRead(ctx, "u2", convID)
	if err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if n != 0 {
		t.Fatalf("repeat receipts = %d, want 0", n)
	}

	// all three messages are u1's own, none get a self-receipt
	n, _, err = svc.MarkRead(ctx, "u1", convID)
	if err != nil {
		t.Fatalf("sender mark read: %v", err)
	}
	if n != 0 {
		t.Fatalf("self-receipts = %d, want 0", n)
	}

	row, err := inbox.RowFor(ctx, "u2", convID)
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if row.UnreadCount != 0 {
		t.Fatalf("unread = %d after mark read", row.UnreadCount)
	}
	if row.LastReadAt == nil {
		t.Fatal("lastReadAt not set")
	}
}

func TestUnitMembershipChanges(t *testing.T) {
	svc, _, _, inbox, _ := newTestService()
	ctx := context.Background()

	conv, err := svc.CreateGroup(ctx, "u1", "Unit", "", []string{"u2"}, "", "", "unit1")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	convID := conv.ID.Hex()

	if err := svc.AddUnitMember(ctx, "unit1", "u3"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.AddUnitMember(ctx, "unit1", "u3"); err != nil {
		t.Fatalf("repeat add must be a no-op: %v", err)
	}
	row, err := inbox.RowFor(ctx, "u1", convID)
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if row.GroupChat.MemberCount != 3 {
		t.Fatalf("member count = %d, want 3", row.GroupChat.MemberCount)
	}

	if err := svc.RemoveUnitMember(ctx, "unit1", "u3"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := svc.RemoveUnitMember(ctx, "unit1", "u3"); err != nil {
		t.Fatalf("repeat remove must be a no-op: %v", err)
	}
	if _, err := inbox.RowFor(ctx, "u3", convID); !errs.IsNotFound(err) {
		t.Fatalf("removed member still has an inbox row: %v", err)
	}
	row, err = inbox.RowFor(ctx, "u1", convID)
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if row.GroupChat.MemberCount != 2 {
		t.Fatalf("member count = %d, want 2", row.GroupChat.MemberCount)
	}
}

func TestEditRefreshesInboxSnapshot(t *testing.T) {
	svc, _, _, inbox, _ := newTestService()
	ctx := context.Background()

	conv, _, err := svc.CreateDirect(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	convID := conv.ID.Hex()
	msg, err := svc.AppendMessage(ctx, AppendInput{ConversationID: convID, SenderID: "u1", Content: "typo"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := svc.EditMessage(ctx, msg.ID.Hex(), "u2", "nope"); !errs.IsNotFound(err) {
		t.Fatalf("editing someone else's message: got %v, want not found", err)
	}
	if _, err := svc.EditMessage(ctx, msg.ID.Hex(), "u1", "fixed"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	row, err := inbox.RowFor(ctx, "u2", convID)
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if row.LastMessage == nil || row.LastMessage.Content != "fixed" {
		t.Fatalf("snapshot = %+v, want edited content", row.LastMessage)
	}

	if _, err := svc.DeleteMessage(ctx, msg.ID.Hex(), "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	row, err = inbox.RowFor(ctx, "u2", convID)
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if row.LastMessage.Type != model.MessageTypeDeleted || row.LastMessage.Content != "" {
		t.Fatalf("snapshot after delete = %+v", row.LastMessage)
	}
}

func TestBacklogChronological(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	ctx := context.Background()

	conv, _, err := svc.CreateDirect(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	convID := conv.ID.Hex()
	contents := []string{"one", "two", "three"}
	for _, c := range contents {
		if _, err := svc.AppendMessage(ctx, AppendInput{ConversationID: convID, SenderID: "u1", Content: c}); err != nil {
			t.Fatalf("append: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	got, hasMore, err := svc.Backlog(ctx, "u2", convID)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(got) != 3 || hasMore {
		t.Fatalf("backlog size = %d hasMore = %v", len(got), hasMore)
	}
	for i, c := range contents {
		if got[i].Content != c {
			t.Fatalf("backlog[%d] = %q, want %q", i, got[i].Content, c)
		}
	}

	if _, _, err := svc.Backlog(ctx, "u3", convID); !errs.IsPermissionDenied(err) {
		t.Fatalf("outsider backlog: got %v, want permission denied", err)
	}
}

func TestSystemMessageOpensDirect(t *testing.T) {
	svc, _, _, inbox, _ := newTestService()
	ctx := context.Background()

	msg, err := svc.CreateSystemMessage(ctx, "u1", "u2", "Referral accepted")
	if err != nil {
		t.Fatalf("system message: %v", err)
	}
	if msg.Type != model.MessageTypeSystem {
		t.Fatalf("type = %s", msg.Type)
	}

	row, err := inbox.RowFor(ctx, "u2", msg.ConversationID)
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if row.UnreadCount != 1 || row.LastMessage == nil || row.LastMessage.Type != model.MessageTypeSystem {
		t.Fatalf("row = %+v", row)
	}
}
