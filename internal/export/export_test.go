package export

import (
	"bytes"
	"testing"

	"github.com/dkarimoff/evoinbox/internal/inbox"
	"github.com/xuri/excelize/v2"
)

func TestWorkbookSheetsAndRows(t *testing.T) {
	conversations := []inbox.Conversation{
		{Name: "Aisha", RemoteJID: "111@s.whatsapp.net", LastMessage: "hi", UnreadCount: 2,
			Labels: []inbox.LabelTag{{LabelID: "5", Name: "vip"}}},
		{Name: "Bek", RemoteJID: "222@s.whatsapp.net", LastMessage: "no messages"},
	}
	messages := []inbox.Message{
		{SenderID: "111@s.whatsapp.net", Text: "hi", Status: "READ"},
		{SenderID: "me", Text: "hello back", Own: true},
	}

	var buf bytes.Buffer
	if err := Write(&buf, conversations, "111@s.whatsapp.net", messages); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(conversationsSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("conversation rows = %d, want header + 2", len(rows))
	}
	if rows[1][0] != "Aisha" || rows[1][1] != "111" || rows[1][6] != "vip" {
		t.Errorf("row = %v", rows[1])
	}

	msgs, err := f.GetRows(messagesSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("message rows = %d, want header + 2", len(msgs))
	}
	if msgs[2][1] != "out" {
		t.Errorf("direction = %q, want out", msgs[2][1])
	}
}
