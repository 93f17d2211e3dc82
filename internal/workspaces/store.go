package workspaces

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	columnWorkspaceID     = "workspace_id"
	columnSavedAtSeconds  = "saved_at_s"
	queryWorkspace        = columnWorkspaceID + " = ?"
	queryWorkspaceSavedAt = columnWorkspaceID + " = ? AND " + columnSavedAtSeconds + " = ?"
	orderSavedAtDesc      = columnSavedAtSeconds + " DESC"
	orderSnapshotIDDesc   = "snapshot_id DESC"
)

// SnapshotStore persists immutable snapshots. Rows are never updated and are
// removed only together with their workspace.
type SnapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore binds a store to a database handle or transaction.
func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Append inserts a new snapshot for the workspace at the given save time.
func (s *SnapshotStore) Append(ctx context.Context, workspaceID string, savedAt time.Time, notes []Note) (Snapshot, error) {
	blob, err := encodeNotes(notes)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode notes: %w", err)
	}
	snapshot := Snapshot{
		WorkspaceID:    workspaceID,
		SavedAtSeconds: savedAt.UTC().Unix(),
		NotesJSON:      blob,
	}
	if err := s.db.WithContext(ctx).Create(&snapshot).Error; err != nil {
		return Snapshot{}, fmt.Errorf("%w: insert snapshot: %w", ErrPersistence, err)
	}
	return snapshot, nil
}

// FindByExactTime returns the snapshot saved at exactly savedAt.
// When several snapshots share the second the latest insert wins.
func (s *SnapshotStore) FindByExactTime(ctx context.Context, workspaceID string, savedAt time.Time) (Snapshot, bool, error) {
	var snapshot Snapshot
	err := s.db.WithContext(ctx).
		Where(queryWorkspaceSavedAt, workspaceID, savedAt.UTC().Unix()).
		Order(orderSnapshotIDDesc).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: select snapshot: %w", ErrPersistence, err)
	}
	return snapshot, true, nil
}

// ListTimes returns save times for the workspace, most recent first.
func (s *SnapshotStore) ListTimes(ctx context.Context, workspaceID string, offset, limit int) ([]time.Time, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []time.Time{}, nil
	}
	var seconds []int64
	err := s.db.WithContext(ctx).
		Model(&Snapshot{}).
		Where(queryWorkspace, workspaceID).
		Order(orderSavedAtDesc).
		Order(orderSnapshotIDDesc).
		Offset(offset).
		Limit(limit).
		Pluck(columnSavedAtSeconds, &seconds).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list snapshot times: %w", ErrPersistence, err)
	}
	times := make([]time.Time, 0, len(seconds))
	for _, value := range seconds {
		times = append(times, time.Unix(value, 0).UTC())
	}
	return times, nil
}

func (s *SnapshotStore) deleteForWorkspace(ctx context.Context, workspaceID string) error {
	if err := s.db.WithContext(ctx).Where(queryWorkspace, workspaceID).Delete(&Snapshot{}).Error; err != nil {
		return fmt.Errorf("%w: delete snapshots: %w", ErrPersistence, err)
	}
	return nil
}
