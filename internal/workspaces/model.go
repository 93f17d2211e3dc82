package workspaces

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"
)

const (
	workspaceIDLength      = 40
	maxWorkspaceNameLength = 255
)

var (
	// ErrPersistence marks failures of the underlying store (connection loss, constraint violation).
	ErrPersistence = errors.New("workspaces: persistence failure")
	// ErrInvalidRequest indicates that a save request failed validation.
	ErrInvalidRequest = errors.New("workspaces: invalid request")
)

// WorkspaceIDFromName derives the stable workspace identifier from its display name.
// The identifier is the hex SHA-1 digest of the UTF-8 name.
func WorkspaceIDFromName(name string) string {
	digest := sha1.Sum([]byte(name))
	return hex.EncodeToString(digest[:])
}

// Workspace carries the mutable metadata of a named note board.
type Workspace struct {
	ID                string     `gorm:"column:id;primaryKey;size:40;not null"`
	Name              string     `gorm:"column:name;size:255;not null"`
	NextNoteNum       int64      `gorm:"column:next_note_num;not null;default:0"`
	LatestSaveSeconds int64      `gorm:"column:latest_save_s;not null"`
	Snapshots         []Snapshot `gorm:"foreignKey:WorkspaceID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Workspace) TableName() string {
	return "workspaces"
}

// LatestSave returns the UTC time of the most recent snapshot.
func (w Workspace) LatestSave() time.Time {
	return time.Unix(w.LatestSaveSeconds, 0).UTC()
}

// Snapshot stores one immutable save of a workspace's entire note set.
type Snapshot struct {
	SnapshotID     int64  `gorm:"column:snapshot_id;primaryKey;autoIncrement"`
	WorkspaceID    string `gorm:"column:workspace_id;size:40;not null;index:idx_snapshots_workspace_time,priority:1"`
	SavedAtSeconds int64  `gorm:"column:saved_at_s;not null;index:idx_snapshots_workspace_time,priority:2"`
	NotesJSON      string `gorm:"column:notes_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Snapshot) TableName() string {
	return "workspace_snapshots"
}

// SavedAt returns the UTC save time of the snapshot.
func (s Snapshot) SavedAt() time.Time {
	return time.Unix(s.SavedAtSeconds, 0).UTC()
}

// Notes decodes the snapshot's note blob.
func (s Snapshot) Notes() ([]Note, error) {
	return decodeNotes(s.NotesJSON)
}

// Board is the resolved view of a workspace at one version.
type Board struct {
	Workspace Workspace
	Exists    bool
	LastSaved string
	Notes     []Note
}
