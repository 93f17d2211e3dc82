package server

import (
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/webnote/internal/feed"
	"github.com/MarcoPoloResearchLab/webnote/internal/workspaces"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"go.uber.org/zap"
)

const (
	saveStatusOK    = "ok"
	saveStatusError = "error"
	datesSeparator  = "|"
	xmlContentType  = "text/xml; charset=utf-8"
	notFoundBody    = "Not Found"
)

var feedSuffixes = []string{".xml", ".feed"}

type saveWorkspacePayload struct {
	XMLName     xml.Name          `xml:"workspace"`
	Name        string            `xml:"name,attr"`
	NextNoteNum string            `xml:"nextNoteNum,attr"`
	Notes       []saveNotePayload `xml:"note"`
}

type saveNotePayload struct {
	Attributes []xml.Attr `xml:",any,attr"`
	Text       string     `xml:",chardata"`
}

type saveResponsePayload struct {
	XMLName xml.Name          `xml:"return"`
	Status  saveStatusPayload `xml:"status"`
}

type saveStatusPayload struct {
	Value  string `xml:"value,attr"`
	Update string `xml:"update,attr,omitempty"`
}

func (payload saveWorkspacePayload) toRequest() workspaces.SaveRequest {
	nextNoteNum, err := strconv.ParseInt(strings.TrimSpace(payload.NextNoteNum), 10, 64)
	if err != nil {
		nextNoteNum = 0
	}
	notes := make([]workspaces.Note, 0, len(payload.Notes))
	for _, note := range payload.Notes {
		attributes := make(map[string]string, len(note.Attributes))
		for _, attribute := range note.Attributes {
			attributes[attribute.Name.Local] = attribute.Value
		}
		notes = append(notes, workspaces.NoteFromAttributes(attributes, note.Text))
	}
	return workspaces.SaveRequest{
		Name:        payload.Name,
		NextNoteNum: nextNoteNum,
		Notes:       notes,
	}
}

func (h *httpHandler) handleSave(c *gin.Context) {
	logger := h.requestLogger(c)

	var payload saveWorkspacePayload
	if err := c.ShouldBindXML(&payload); err != nil {
		logger.Warn("save payload rejected", zap.Error(err))
		writeSaveResponse(c, http.StatusBadRequest, saveStatusError, "")
		return
	}

	result, err := h.workspaces.Save(c.Request.Context(), payload.toRequest())
	if err != nil {
		if errors.Is(err, workspaces.ErrInvalidRequest) {
			logger.Warn("save request invalid", zap.String("workspace", payload.Name), zap.Error(err))
			writeSaveResponse(c, http.StatusBadRequest, saveStatusError, "")
			return
		}
		logger.Error("failed to save workspace", zap.String("workspace", payload.Name), zap.Error(err))
		writeSaveResponse(c, http.StatusOK, saveStatusError, "")
		return
	}

	h.realtime.Publish(RealtimeMessage{
		WorkspaceID: result.Workspace.ID,
		EventType:   RealtimeEventWorkspaceSaved,
		Version:     result.VersionKey,
		NextNoteNum: result.Workspace.NextNoteNum,
		Timestamp:   time.Now().UTC(),
	})

	writeSaveResponse(c, http.StatusOK, saveStatusOK, result.VersionKey)
}

func writeSaveResponse(c *gin.Context, status int, value, update string) {
	c.Header("Content-Type", xmlContentType)
	c.Render(status, render.XML{Data: saveResponsePayload{
		Status: saveStatusPayload{Value: value, Update: update},
	}})
}

func (h *httpHandler) handleGetRecent(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.String(http.StatusOK, "")
		return
	}

	key, _, err := h.workspaces.Recent(c.Request.Context(), name)
	if err != nil {
		h.requestLogger(c).Error("failed to resolve recent version", zap.String("workspace", name), zap.Error(err))
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.String(http.StatusOK, key)
}

func (h *httpHandler) handleGetDates(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.String(http.StatusOK, "")
		return
	}
	offset, err := strconv.Atoi(strings.TrimSpace(c.DefaultQuery("offset", "0")))
	if err != nil {
		offset = 0
	}

	keys, _, err := h.workspaces.Dates(c.Request.Context(), name, offset)
	if err != nil {
		h.requestLogger(c).Error("failed to list versions", zap.String("workspace", name), zap.Error(err))
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.String(http.StatusOK, strings.Join(keys, datesSeparator))
}

func (h *httpHandler) handleWorkspace(c *gin.Context) {
	raw := c.Param("name")
	for _, suffix := range feedSuffixes {
		if strings.HasSuffix(raw, suffix) && len(raw) > len(suffix) {
			h.handleFeed(c, unescapeName(strings.TrimSuffix(raw, suffix)))
			return
		}
	}
	name := unescapeName(raw)
	if acceptsEventStream(c.GetHeader("Accept")) {
		h.handleEvents(c, name)
		return
	}
	h.handleView(c, name)
}

func acceptsEventStream(accept string) bool {
	for _, mediaRange := range strings.Split(accept, ",") {
		mediaType, _, _ := strings.Cut(mediaRange, ";")
		if strings.EqualFold(strings.TrimSpace(mediaType), eventStreamMimeType) {
			return true
		}
	}
	return false
}

func (h *httpHandler) handleFeed(c *gin.Context, name string) {
	logger := h.requestLogger(c)

	board, err := h.workspaces.Load(c.Request.Context(), name, c.Query("time"))
	if err != nil {
		logger.Error("failed to load workspace feed", zap.String("workspace", name), zap.Error(err))
		c.String(http.StatusInternalServerError, "")
		return
	}
	if !board.Exists {
		c.String(http.StatusNotFound, notFoundBody)
		return
	}

	document, err := h.feeds.Build(h.publicBaseURL(c), board)
	if err != nil {
		logger.Error("failed to render workspace feed", zap.String("workspace", name), zap.Error(err))
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.Data(http.StatusOK, xmlContentType, []byte(document))
}

type workspaceView struct {
	Name        string
	BasePath    string
	LastSaved   string
	HelpEmail   string
	NumDates    int
	NextNoteNum int64
	Debug       int
	Notes       []workspaces.Note
}

func (h *httpHandler) handleView(c *gin.Context, name string) {
	board, err := h.workspaces.Load(c.Request.Context(), name, c.Query("time"))
	if err != nil {
		h.requestLogger(c).Error("failed to load workspace", zap.String("workspace", name), zap.Error(err))
		c.String(http.StatusInternalServerError, "")
		return
	}

	notes := board.Notes
	if notes == nil {
		notes = []workspaces.Note{}
	}
	c.HTML(http.StatusOK, "workspace.html", workspaceView{
		Name:        name,
		BasePath:    h.basePath,
		LastSaved:   board.LastSaved,
		HelpEmail:   h.helpEmail,
		NumDates:    h.numDates,
		NextNoteNum: board.Workspace.NextNoteNum,
		Debug:       h.debug,
		Notes:       notes,
	})
}

func (h *httpHandler) publicBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if forwarded := strings.TrimSpace(c.GetHeader("X-Forwarded-Proto")); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + c.Request.Host + h.basePath
}

// unescapeName reverses the client's extra level of percent-encoding on workspace names.
func unescapeName(raw string) string {
	return feed.Unquote(raw)
}
