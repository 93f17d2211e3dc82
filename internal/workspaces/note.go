package workspaces

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const maxNoteIDLength = 190

// noteAttributeFields maps the client's XML attribute names onto Note fields.
// Attributes outside this set are dropped.
var noteAttributeFields = map[string]func(*Note, string){
	"noteid":    func(n *Note, v string) { n.ID = v },
	"xposition": func(n *Note, v string) { n.XPos = v },
	"yposition": func(n *Note, v string) { n.YPos = v },
	"height":    func(n *Note, v string) { n.Height = v },
	"width":     func(n *Note, v string) { n.Width = v },
	"bgcolor":   func(n *Note, v string) { n.BgColor = v },
	"zindex":    func(n *Note, v string) { n.ZIndex = v },
}

// Note is a single positioned, styled text item within a snapshot.
// Numeric fields keep the client's string representation.
type Note struct {
	ID      string `json:"id,omitempty"`
	XPos    string `json:"xPos,omitempty"`
	YPos    string `json:"yPos,omitempty"`
	Height  string `json:"height,omitempty"`
	Width   string `json:"width,omitempty"`
	BgColor string `json:"bgcolor,omitempty"`
	ZIndex  string `json:"zIndex,omitempty"`
	Text    string `json:"text"`
}

// NoteFromAttributes builds a Note from the client attribute set and text body.
func NoteFromAttributes(attributes map[string]string, text string) Note {
	note := Note{Text: strings.TrimSpace(text)}
	for name, value := range attributes {
		if assign, ok := noteAttributeFields[name]; ok {
			assign(&note, value)
		}
	}
	return note
}

// Validate implements validation.Validatable.
func (n Note) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Length(0, maxNoteIDLength)),
		validation.Field(&n.XPos, is.Float),
		validation.Field(&n.YPos, is.Float),
		validation.Field(&n.Height, is.Float),
		validation.Field(&n.Width, is.Float),
		validation.Field(&n.ZIndex, is.Float),
	)
}

func encodeNotes(notes []Note) (string, error) {
	if notes == nil {
		notes = []Note{}
	}
	encoded, err := json.Marshal(notes)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeNotes(blob string) ([]Note, error) {
	trimmed := strings.TrimSpace(blob)
	if trimmed == "" || trimmed == "null" {
		return []Note{}, nil
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	decoder.DisallowUnknownFields()
	var notes []Note
	if err := decoder.Decode(&notes); err != nil {
		return nil, fmt.Errorf("decode notes blob: %w", err)
	}
	if notes == nil {
		notes = []Note{}
	}
	return notes, nil
}
