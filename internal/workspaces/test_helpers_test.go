package workspaces

import (
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testTimezone = "America/New_York"

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock(start time.Time) *steppingClock {
	return &steppingClock{current: start}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *steppingClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(step)
}

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	location, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("failed to load location %s: %v", name, err)
	}
	return location
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:webnote_test_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Workspace{}, &Snapshot{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *steppingClock) {
	t.Helper()

	db := newTestDatabase(t)
	clock := newSteppingClock(time.Unix(1700000000, 0).UTC())
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    clock.Now,
		Location: mustLocation(t, testTimezone),
	})
	if err != nil {
		t.Fatalf("failed to construct workspaces service: %v", err)
	}
	return service, db, clock
}
