package workspaces

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Registry maps workspace names to their stored metadata row.
type Registry struct {
	db *gorm.DB
}

// NewRegistry binds a registry to a database handle or transaction.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Resolve looks up the workspace for name.
func (r *Registry) Resolve(ctx context.Context, name string) (Workspace, bool, error) {
	var workspace Workspace
	err := r.db.WithContext(ctx).
		Where("id = ?", WorkspaceIDFromName(name)).
		Take(&workspace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Workspace{}, false, nil
	}
	if err != nil {
		return Workspace{}, false, fmt.Errorf("%w: select workspace: %w", ErrPersistence, err)
	}
	return workspace, true, nil
}

// upsertOnSave creates the workspace row or overwrites its counter and latest save time.
// The incoming nextNoteNum is stored as given, even when lower than the stored value.
func (r *Registry) upsertOnSave(ctx context.Context, name string, nextNoteNum int64, savedAt time.Time) (Workspace, error) {
	workspace := Workspace{
		ID:                WorkspaceIDFromName(name),
		Name:              name,
		NextNoteNum:       nextNoteNum,
		LatestSaveSeconds: savedAt.UTC().Unix(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"next_note_num", "latest_save_s"}),
		}).
		Create(&workspace).Error
	if err != nil {
		return Workspace{}, fmt.Errorf("%w: upsert workspace: %w", ErrPersistence, err)
	}
	return workspace, nil
}

// Delete removes the workspace and every snapshot it owns.
func (r *Registry) Delete(ctx context.Context, name string) (bool, error) {
	workspaceID := WorkspaceIDFromName(name)
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := NewSnapshotStore(tx).deleteForWorkspace(ctx, workspaceID); err != nil {
			return err
		}
		result := tx.Where("id = ?", workspaceID).Delete(&Workspace{})
		if result.Error != nil {
			return fmt.Errorf("%w: delete workspace: %w", ErrPersistence, result.Error)
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}
