package api

import (
	"context"
	"net/http"

	"github.com/dkarimoff/evoinbox/internal/export"
	"github.com/dkarimoff/evoinbox/internal/gateway"
	"github.com/dkarimoff/evoinbox/internal/inbox"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.conversations.List())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Load(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"conversations": s.conversations.Len()})
}

func (s *Server) handleListLabels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.conversations.AvailableLabels())
}

func (s *Server) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	jid := chi.URLParam(r, "jid")
	conv, ok := s.conversations.Get(jid)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, apiError{Error: "unknown conversation"})
		return
	}
	if err := s.engine.OpenConversation(r.Context(), jid); err != nil {
		s.writeError(w, err)
		return
	}
	if s.watcher != nil {
		// The watch outlives the request.
		s.watcher.Watch(context.Background(), conv.InstanceID, s.conversations.InstanceName(conv.InstanceID))
	}
	s.writeJSON(w, http.StatusOK, s.messages.List())
}

func (s *Server) handleCloseConversation(w http.ResponseWriter, _ *http.Request) {
	s.engine.CloseConversation()
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	jid := chi.URLParam(r, "jid")
	if s.messages.Remote() != jid {
		s.writeJSON(w, http.StatusConflict, apiError{Error: "conversation is not open"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.messages.List())
}

type sendTextReq struct {
	Text string `json:"text" validate:"required"`
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req sendTextReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.command(w, s.commands.SendText(r.Context(), chi.URLParam(r, "jid"), req.Text))
}

type sendMediaReq struct {
	Mediatype string `json:"mediatype" validate:"required,oneof=image video document audio"`
	Media     string `json:"media" validate:"required"`
	FileName  string `json:"fileName"`
	Caption   string `json:"caption"`
	Mimetype  string `json:"mimetype"`
}

func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	var req sendMediaReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.command(w, s.commands.SendMedia(r.Context(), chi.URLParam(r, "jid"), gateway.Media{
		Mediatype: req.Mediatype,
		Media:     req.Media,
		FileName:  req.FileName,
		Caption:   req.Caption,
		Mimetype:  req.Mimetype,
	}))
}

// handleSendMediaFile accepts a multipart upload: "file" plus form
// fields mediatype and caption.
func (s *Server) handleSendMediaFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed multipart body"})
		return
	}
	mediatype := r.FormValue("mediatype")
	switch mediatype {
	case "image", "video", "document", "audio":
	default:
		s.writeJSON(w, http.StatusBadRequest, apiError{Error: "mediatype must be image, video, document or audio"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, apiError{Error: "missing file part"})
		return
	}
	defer func() { _ = file.Close() }()

	s.command(w, s.commands.SendMediaFile(r.Context(), chi.URLParam(r, "jid"),
		mediatype, header.Filename, r.FormValue("caption"), file))
}

type sendLocationReq struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

func (s *Server) handleSendLocation(w http.ResponseWriter, r *http.Request) {
	var req sendLocationReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.command(w, s.commands.SendLocation(r.Context(), chi.URLParam(r, "jid"), gateway.Location{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Name:      req.Name,
		Address:   req.Address,
	}))
}

type contactCardReq struct {
	FullName    string `json:"fullName" validate:"required"`
	WUID        string `json:"wuid"`
	PhoneNumber string `json:"phoneNumber" validate:"required"`
}

type sendContactReq struct {
	Contacts []contactCardReq `json:"contacts" validate:"min=1,dive"`
}

func (s *Server) handleSendContact(w http.ResponseWriter, r *http.Request) {
	var req sendContactReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	cards := make([]gateway.ContactCard, len(req.Contacts))
	for i, c := range req.Contacts {
		cards[i] = gateway.ContactCard{FullName: c.FullName, WUID: c.WUID, PhoneNumber: c.PhoneNumber}
	}
	s.command(w, s.commands.SendContact(r.Context(), chi.URLParam(r, "jid"), cards))
}

type sendReactionReq struct {
	MessageID string `json:"messageId" validate:"required"`
	Reaction  string `json:"reaction" validate:"required"`
}

func (s *Server) handleSendReaction(w http.ResponseWriter, r *http.Request) {
	var req sendReactionReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.command(w, s.commands.SendReaction(r.Context(), chi.URLParam(r, "jid"), req.MessageID, req.Reaction))
}

type buttonReq struct {
	Type        string `json:"type" validate:"required,oneof=reply url call copy"`
	DisplayText string `json:"displayText" validate:"required"`
	ID          string `json:"id"`
	URL         string `json:"url"`
	PhoneNumber string `json:"phoneNumber"`
	CopyCode    string `json:"copyCode"`
}

type sendButtonsReq struct {
	Title       string      `json:"title" validate:"required"`
	Description string      `json:"description"`
	Footer      string      `json:"footer"`
	Buttons     []buttonReq `json:"buttons" validate:"min=1,dive"`
}

func (s *Server) handleSendButtons(w http.ResponseWriter, r *http.Request) {
	var req sendButtonsReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	buttons := make([]gateway.Button, len(req.Buttons))
	for i, b := range req.Buttons {
		buttons[i] = gateway.Button{
			Type:        b.Type,
			DisplayText: b.DisplayText,
			ID:          b.ID,
			URL:         b.URL,
			PhoneNumber: b.PhoneNumber,
			CopyCode:    b.CopyCode,
		}
	}
	s.command(w, s.commands.SendButtons(r.Context(), chi.URLParam(r, "jid"),
		req.Title, req.Description, req.Footer, buttons))
}

type listRowReq struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	RowID       string `json:"rowId" validate:"required"`
}

type listSectionReq struct {
	Title string       `json:"title" validate:"required"`
	Rows  []listRowReq `json:"rows" validate:"min=1,dive"`
}

type sendListReq struct {
	Title       string           `json:"title" validate:"required"`
	Description string           `json:"description"`
	ButtonText  string           `json:"buttonText" validate:"required"`
	Footer      string           `json:"footer"`
	Sections    []listSectionReq `json:"sections" validate:"min=1,dive"`
}

func (s *Server) handleSendList(w http.ResponseWriter, r *http.Request) {
	var req sendListReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sections := make([]gateway.ListSection, len(req.Sections))
	for i, sec := range req.Sections {
		rows := make([]gateway.ListRow, len(sec.Rows))
		for j, row := range sec.Rows {
			rows[j] = gateway.ListRow{Title: row.Title, Description: row.Description, RowID: row.RowID}
		}
		sections[i] = gateway.ListSection{Title: sec.Title, Rows: rows}
	}
	s.command(w, s.commands.SendList(r.Context(), chi.URLParam(r, "jid"),
		req.Title, req.Description, req.ButtonText, req.Footer, sections))
}

type sendPollReq struct {
	Name            string   `json:"name" validate:"required"`
	SelectableCount int      `json:"selectableCount" validate:"min=1"`
	Values          []string `json:"values" validate:"min=2,dive,required"`
}

func (s *Server) handleSendPoll(w http.ResponseWriter, r *http.Request) {
	var req sendPollReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.command(w, s.commands.SendPoll(r.Context(), chi.URLParam(r, "jid"),
		req.Name, req.SelectableCount, req.Values))
}

type editMessageReq struct {
	Text string `json:"text" validate:"required"`
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.command(w, s.commands.EditMessage(r.Context(),
		chi.URLParam(r, "jid"), chi.URLParam(r, "id"), req.Text))
}

type updateLabelsReq struct {
	LabelIDs []string `json:"labelIds"`
}

func (s *Server) handleUpdateLabels(w http.ResponseWriter, r *http.Request) {
	var req updateLabelsReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	jid := chi.URLParam(r, "jid")
	conv, ok := s.conversations.Get(jid)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, apiError{Error: "unknown conversation"})
		return
	}
	var tags []inbox.LabelTag
	for _, id := range req.LabelIDs {
		if tag, ok := s.conversations.LabelByID(id); ok {
			tags = append(tags, tag)
		} else {
			tags = append(tags, inbox.LabelTag{LabelID: id, Name: id})
		}
	}
	s.command(w, s.commands.UpdateLabels(r.Context(), conv.ID, tags))
}

type blockContactReq struct {
	Blocked bool `json:"blocked"`
}

func (s *Server) handleBlockContact(w http.ResponseWriter, r *http.Request) {
	var req blockContactReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.command(w, s.commands.SetBlocked(r.Context(), chi.URLParam(r, "jid"), req.Blocked))
}

// handleFindContacts proxies the gateway contact directory. The instance
// query parameter overrides the preferred instance.
func (s *Server) handleFindContacts(w http.ResponseWriter, r *http.Request) {
	instance := r.URL.Query().Get("instance")
	if instance == "" {
		_, instance = s.prefs.Preferred()
	}
	if instance == "" {
		s.writeJSON(w, http.StatusConflict, apiError{Error: "no preferred instance"})
		return
	}
	contacts, err := s.instances.FindContacts(r.Context(), instance, r.URL.Query().Get("jid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.commands.MarkRead(r.Context(), chi.URLParam(r, "jid")))
}

func (s *Server) handleMarkUnread(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.commands.MarkUnread(r.Context(), chi.URLParam(r, "jid")))
}

type autopilotReq struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleAutopilot(w http.ResponseWriter, r *http.Request) {
	var req autopilotReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.command(w, s.commands.SetAutoReply(chi.URLParam(r, "jid"), req.Enabled))
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="inbox.xlsx"`)
	err := export.Write(w, s.conversations.List(), s.messages.Remote(), s.messages.List())
	if err != nil {
		s.logger.Warn("export failed", zap.Error(err))
	}
}

// command finalizes a dispatcher call with a uniform response shape.
func (s *Server) command(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
