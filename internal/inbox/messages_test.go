package inbox

import "testing"

func openConversation(t *testing.T) *Messages {
	t.Helper()
	s := NewMessages(nil)
	s.Replace("111@s.whatsapp.net", []Message{
		{ID: "m1", KeyID: "K1", TimestampMs: 1000, Text: "first"},
		{ID: "m2", KeyID: "K2", TimestampMs: 2000, Text: "second", Own: true, Status: StatusServerAck},
	})
	return s
}

func TestReplaceSortsAscending(t *testing.T) {
	s := NewMessages(nil)
	s.Replace("x@s.whatsapp.net", []Message{
		{ID: "b", TimestampMs: 2000},
		{ID: "a", TimestampMs: 1000},
	})
	list := s.List()
	if list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("not ascending: %+v", list)
	}
}

func TestApplyInboundOutOfOrder(t *testing.T) {
	s := openConversation(t)

	// Realtime delivery order is not chronological order.
	if !s.ApplyInbound("111@s.whatsapp.net", Message{ID: "m0", TimestampMs: 500}) {
		t.Fatal("message for open conversation must apply")
	}
	list := s.List()
	if list[0].ID != "m0" {
		t.Errorf("late-delivered older message must sort first: %+v", list)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].TimestampMs > list[i].TimestampMs {
			t.Fatalf("list not ascending at %d", i)
		}
	}
}

func TestApplyInboundOtherConversationIgnored(t *testing.T) {
	s := openConversation(t)
	if s.ApplyInbound("999@s.whatsapp.net", Message{ID: "mX", TimestampMs: 9000}) {
		t.Error("message for another conversation must not apply")
	}
	if len(s.List()) != 2 {
		t.Errorf("list mutated: %+v", s.List())
	}
}

func TestApplyInboundReplacesByKeyID(t *testing.T) {
	s := NewMessages(nil)
	s.Replace("111@s.whatsapp.net", []Message{
		{ID: "local-1", TimestampMs: 1000, Text: "hello", Own: true, Status: StatusPending},
	})
	if !s.Acknowledge("local-1", "GW1", StatusServerAck) {
		t.Fatal("acknowledge must apply")
	}

	echo := Message{ID: "row-1", KeyID: "GW1", TimestampMs: 1000, Text: "hello", Own: true, Status: StatusServerAck}
	if !s.ApplyInbound("111@s.whatsapp.net", echo) {
		t.Fatal("echo must apply")
	}
	list := s.List()
	if len(list) != 1 || list[0].ID != "row-1" {
		t.Errorf("echo must replace the acknowledged local copy: %+v", list)
	}
}

func TestApplyStatusByKeyID(t *testing.T) {
	s := openConversation(t)
	if !s.ApplyStatus("K2", StatusRead) {
		t.Fatal("status update by key id must apply")
	}
	got, _ := s.Get("m2")
	if got.Status != StatusRead {
		t.Errorf("status = %q, want READ", got.Status)
	}
}

func TestApplyStatusUnknownIsNoOp(t *testing.T) {
	s := openConversation(t)
	if s.ApplyStatus("missing", StatusRead) {
		t.Error("unknown id must be a no-op")
	}
}

func TestApplyStatusBulk(t *testing.T) {
	s := openConversation(t)
	affected := s.ApplyStatusBulk([]string{"K1", "K2"}, StatusRead)
	if len(affected) != 2 {
		t.Fatalf("affected = %v, want both", affected)
	}
	for _, m := range s.List() {
		if m.Status != StatusRead {
			t.Errorf("message %s status = %q", m.ID, m.Status)
		}
	}
}

func TestSetTextAndRestore(t *testing.T) {
	s := openConversation(t)

	prev, ok := s.SetText("m2", "edited", StatusPending)
	if !ok {
		t.Fatal("edit must apply")
	}
	got, _ := s.Get("m2")
	if got.Text != "edited" || got.Status != StatusPending {
		t.Errorf("optimistic edit not applied: %+v", got)
	}

	s.Restore(prev)
	got, _ = s.Get("m2")
	if got.Text != "second" || got.Status != StatusServerAck {
		t.Errorf("rollback failed: %+v", got)
	}
}

func TestAppendMediaDeduplicates(t *testing.T) {
	s := NewMessages(nil)
	s.Replace("111@s.whatsapp.net", []Message{
		{ID: "m1", TimestampMs: 1000, Attachments: []Attachment{
			{Kind: KindImage, URL: "https://cdn.example/a.jpg"},
		}},
	})

	s.AppendMedia("m1", []Attachment{
		{Kind: KindImage, URL: "https://cdn.example/a.jpg", Name: "a.jpg"},
		{Kind: KindDocument, URL: "https://cdn.example/doc.pdf", Name: "doc.pdf"},
	})

	got, _ := s.Get("m1")
	if len(got.Attachments) != 2 {
		t.Errorf("got %d attachments, want 2 (image deduped): %+v", len(got.Attachments), got.Attachments)
	}
}

func TestUnreadSelection(t *testing.T) {
	s := NewMessages(nil)
	s.Replace("111@s.whatsapp.net", []Message{
		{ID: "m1", KeyID: "K1", TimestampMs: 1000, Status: StatusDeliveryAck},
		{ID: "m2", KeyID: "K2", TimestampMs: 2000, Status: StatusRead},
		{ID: "m3", KeyID: "K3", TimestampMs: 3000, Own: true, Status: StatusDeliveryAck},
		{ID: "m4", TimestampMs: 4000, Status: StatusDeliveryAck}, // no key id
	})

	unread := s.Unread()
	if len(unread) != 1 || unread[0].ID != "m1" {
		t.Errorf("unread = %+v, want only m1", unread)
	}
}

func TestClear(t *testing.T) {
	s := openConversation(t)
	s.Clear()
	if s.Remote() != "" || len(s.List()) != 0 {
		t.Error("clear must empty the store")
	}
}
