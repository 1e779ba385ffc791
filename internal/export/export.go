package export

import (
	"fmt"
	"io"

	"github.com/dkarimoff/evoinbox/internal/inbox"
	"github.com/xuri/excelize/v2"
)

const (
	conversationsSheet = "Conversations"
	messagesSheet      = "Messages"
)

// Workbook renders the conversation list and the open conversation's
// messages as an xlsx workbook.
func Workbook(conversations []inbox.Conversation, remoteJID string, messages []inbox.Message) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := writeConversations(f, conversations); err != nil {
		return nil, err
	}
	if err := writeMessages(f, remoteJID, messages); err != nil {
		return nil, err
	}

	// excelize creates "Sheet1" by default.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	idx, err := f.GetSheetIndex(conversationsSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	return f, nil
}

// Write streams the workbook to w.
func Write(w io.Writer, conversations []inbox.Conversation, remoteJID string, messages []inbox.Message) error {
	f, err := Workbook(conversations, remoteJID, messages)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return f.Write(w)
}

func writeConversations(f *excelize.File, conversations []inbox.Conversation) error {
	if _, err := f.NewSheet(conversationsSheet); err != nil {
		return err
	}
	header := []any{"Name", "Number", "Last message", "Last activity", "Unread", "Status", "Labels"}
	if err := f.SetSheetRow(conversationsSheet, "A1", &header); err != nil {
		return err
	}
	for i, c := range conversations {
		labels := ""
		for j, tag := range c.Labels {
			if j > 0 {
				labels += ", "
			}
			labels += tag.Name
		}
		row := []any{
			c.Name,
			inbox.StripRemoteSuffix(c.RemoteJID),
			c.LastMessage,
			c.Timestamp,
			c.UnreadCount,
			c.Status,
			labels,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(conversationsSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeMessages(f *excelize.File, remoteJID string, messages []inbox.Message) error {
	if _, err := f.NewSheet(messagesSheet); err != nil {
		return err
	}
	header := []any{"Conversation", "Direction", "Sender", "Text", "Time", "Status", "Attachments"}
	if err := f.SetSheetRow(messagesSheet, "A1", &header); err != nil {
		return err
	}
	for i, m := range messages {
		direction := "in"
		if m.Own {
			direction = "out"
		}
		attachments := ""
		for j, a := range m.Attachments {
			if j > 0 {
				attachments += ", "
			}
			name := a.Name
			if name == "" {
				name = string(a.Kind)
			}
			attachments += name
		}
		row := []any{
			inbox.StripRemoteSuffix(remoteJID),
			direction,
			inbox.StripRemoteSuffix(m.SenderID),
			m.Text,
			m.Timestamp,
			m.Status,
			attachments,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(messagesSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
