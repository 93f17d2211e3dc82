package workspaces

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HistoryWindow is the number of version keys returned per history page:
// ten displayed plus one signalling that more exist.
const HistoryWindow = 11

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "workspaces.service.new"
	opSave            = "workspaces.save"
	opResolve         = "workspaces.resolve"
	opLoad            = "workspaces.load"
	opListDates       = "workspaces.list_dates"
	opDeleteWorkspace = "workspaces.delete"

	reasonMissingDatabase = "missing_database"
	reasonInvalidRequest  = "invalid_request"
	reasonUpsertFailed    = "workspace_upsert_failed"
	reasonAppendFailed    = "snapshot_append_failed"
	reasonLookupFailed    = "workspace_lookup_failed"
	reasonSnapshotFailed  = "snapshot_lookup_failed"
	reasonSnapshotCorrupt = "snapshot_decode_failed"
	reasonListFailed      = "snapshot_list_failed"
	reasonDeleteFailed    = "delete_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Location *time.Location
	Logger   *zap.Logger
}

// Service versions workspaces as append-only snapshot histories.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	keys   VersionKeys
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		keys:   NewVersionKeys(cfg.Location),
		logger: logger,
	}, nil
}

// VersionKeys exposes the service's version key codec.
func (s *Service) VersionKeys() VersionKeys {
	return s.keys
}

// SaveRequest is the full board submitted by a client.
type SaveRequest struct {
	Name        string
	NextNoteNum int64
	Notes       []Note
}

// Validate implements validation.Validatable.
func (r SaveRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, maxWorkspaceNameLength)),
		validation.Field(&r.Notes),
	)
}

// SaveResult describes the snapshot written by Save.
type SaveResult struct {
	Workspace  Workspace
	Snapshot   Snapshot
	VersionKey string
}

// Save upserts the workspace metadata and appends a snapshot in a single transaction.
func (s *Service) Save(ctx context.Context, request SaveRequest) (SaveResult, error) {
	if s.db == nil {
		s.logError(opSave, reasonMissingDatabase, errMissingDatabase)
		return SaveResult{}, newServiceError(opSave, reasonMissingDatabase, errMissingDatabase)
	}
	if err := request.Validate(); err != nil {
		return SaveResult{}, newServiceError(opSave, reasonInvalidRequest, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	savedAt := s.now()
	var result SaveResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		workspace, err := NewRegistry(tx).upsertOnSave(ctx, request.Name, request.NextNoteNum, savedAt)
		if err != nil {
			s.logError(opSave, reasonUpsertFailed, err, zap.String("workspace", request.Name))
			return newServiceError(opSave, reasonUpsertFailed, err)
		}

		snapshot, err := NewSnapshotStore(tx).Append(ctx, workspace.ID, savedAt, request.Notes)
		if err != nil {
			s.logError(opSave, reasonAppendFailed, err, zap.String("workspace", request.Name))
			return newServiceError(opSave, reasonAppendFailed, err)
		}

		result = SaveResult{
			Workspace:  workspace,
			Snapshot:   snapshot,
			VersionKey: s.keys.Format(savedAt),
		}
		return nil
	})
	if txErr != nil {
		return SaveResult{}, txErr
	}

	s.loggerOrDefault().Debug("workspace saved",
		zap.String("workspace", request.Name),
		zap.String("version", result.VersionKey),
		zap.Int("notes", len(request.Notes)))
	return result, nil
}

// Resolve returns the stored workspace for name.
func (s *Service) Resolve(ctx context.Context, name string) (Workspace, bool, error) {
	if s.db == nil {
		s.logError(opResolve, reasonMissingDatabase, errMissingDatabase)
		return Workspace{}, false, newServiceError(opResolve, reasonMissingDatabase, errMissingDatabase)
	}
	if name == "" {
		return Workspace{}, false, nil
	}
	workspace, found, err := NewRegistry(s.db).Resolve(ctx, name)
	if err != nil {
		s.logError(opResolve, reasonLookupFailed, err, zap.String("workspace", name))
		return Workspace{}, false, newServiceError(opResolve, reasonLookupFailed, err)
	}
	return workspace, found, nil
}

// Recent returns the version key of the workspace's latest save.
func (s *Service) Recent(ctx context.Context, name string) (string, bool, error) {
	workspace, found, err := s.Resolve(ctx, name)
	if err != nil || !found {
		return "", false, err
	}
	return s.keys.Format(workspace.LatestSave()), true, nil
}

// Dates lists up to HistoryWindow version keys for the workspace, most recent first,
// skipping offset entries.
func (s *Service) Dates(ctx context.Context, name string, offset int) ([]string, bool, error) {
	workspace, found, err := s.Resolve(ctx, name)
	if err != nil || !found {
		return nil, false, err
	}
	times, err := NewSnapshotStore(s.db).ListTimes(ctx, workspace.ID, offset, HistoryWindow)
	if err != nil {
		s.logError(opListDates, reasonListFailed, err, zap.String("workspace", name))
		return nil, true, newServiceError(opListDates, reasonListFailed, err)
	}
	keys := make([]string, 0, len(times))
	for _, savedAt := range times {
		keys = append(keys, s.keys.Format(savedAt))
	}
	return keys, true, nil
}

// Load resolves the workspace and the notes of the requested version.
// An empty requestedKey selects the latest save.
func (s *Service) Load(ctx context.Context, name, requestedKey string) (Board, error) {
	workspace, found, err := s.Resolve(ctx, name)
	if err != nil {
		return Board{}, err
	}
	if !found {
		return Board{Notes: []Note{}}, nil
	}
	notes, err := s.ResolveRequestedSnapshot(ctx, workspace, requestedKey)
	if err != nil {
		return Board{}, err
	}
	return Board{
		Workspace: workspace,
		Exists:    true,
		LastSaved: s.keys.Format(workspace.LatestSave()),
		Notes:     notes,
	}, nil
}

// ResolveRequestedSnapshot returns the notes saved at the requested version key.
// A missing or unparseable key falls back to the latest save; a missing snapshot
// yields an empty list. An ambiguous key tries its standard-time instant first.
func (s *Service) ResolveRequestedSnapshot(ctx context.Context, workspace Workspace, requestedKey string) ([]Note, error) {
	if s.db == nil {
		s.logError(opLoad, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opLoad, reasonMissingDatabase, errMissingDatabase)
	}

	candidates := []time.Time{workspace.LatestSave()}
	if requestedKey != "" {
		parsed, err := s.keys.Candidates(requestedKey)
		if err == nil {
			candidates = parsed
		} else {
			s.loggerOrDefault().Debug("version key ignored",
				zap.String("workspace", workspace.Name),
				zap.String("version", requestedKey),
				zap.Error(err))
		}
	}

	store := NewSnapshotStore(s.db)
	var snapshot Snapshot
	found := false
	for _, savedAt := range candidates {
		var err error
		snapshot, found, err = store.FindByExactTime(ctx, workspace.ID, savedAt)
		if err != nil {
			s.logError(opLoad, reasonSnapshotFailed, err, zap.String("workspace", workspace.Name))
			return nil, newServiceError(opLoad, reasonSnapshotFailed, err)
		}
		if found {
			break
		}
	}
	if !found {
		return []Note{}, nil
	}

	notes, err := snapshot.Notes()
	if err != nil {
		cause := fmt.Errorf("%w: %w", ErrPersistence, err)
		s.logError(opLoad, reasonSnapshotCorrupt, cause,
			zap.String("workspace", workspace.Name),
			zap.Int64("snapshot_id", snapshot.SnapshotID))
		return nil, newServiceError(opLoad, reasonSnapshotCorrupt, cause)
	}
	return notes, nil
}

// DeleteWorkspace removes a workspace with its whole history.
func (s *Service) DeleteWorkspace(ctx context.Context, name string) (bool, error) {
	if s.db == nil {
		s.logError(opDeleteWorkspace, reasonMissingDatabase, errMissingDatabase)
		return false, newServiceError(opDeleteWorkspace, reasonMissingDatabase, errMissingDatabase)
	}
	deleted, err := NewRegistry(s.db).Delete(ctx, name)
	if err != nil {
		s.logError(opDeleteWorkspace, reasonDeleteFailed, err, zap.String("workspace", name))
		return false, newServiceError(opDeleteWorkspace, reasonDeleteFailed, err)
	}
	if deleted {
		s.loggerOrDefault().Info("workspace deleted", zap.String("workspace", name))
	}
	return deleted, nil
}

func (s *Service) now() time.Time {
	clock := s.clock
	if clock == nil {
		clock = time.Now
	}
	return clock().UTC().Truncate(time.Second)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("workspaces service error", attrs...)
}
