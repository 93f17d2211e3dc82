package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/MarcoPoloResearchLab/webnote/internal/workspaces"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testBasePath  = "/webnote"
	testTimezone  = "America/New_York"
	testStartUnix = 1700000000
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

// Now returns the current instant and moves the clock one second forward.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(time.Second)
	return now
}

type testEnvironment struct {
	handler    http.Handler
	db         *gorm.DB
	service    *workspaces.Service
	dispatcher *RealtimeDispatcher
	staticDir  string
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:webnote_server_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", time.Now().UnixNano())
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
	if err := db.AutoMigrate(&workspaces.Workspace{}, &workspaces.Snapshot{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	location, err := time.LoadLocation(testTimezone)
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	clock := &testClock{current: time.Unix(testStartUnix, 0).UTC()}
	service, err := workspaces.NewService(workspaces.ServiceConfig{
		Database: db,
		Clock:    clock.Now,
		Location: location,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct workspaces service: %v", err)
	}

	staticDir := t.TempDir()
	writeStaticFile(t, staticDir, "index.html", "<html>index</html>")
	writeStaticFile(t, staticDir, "strings.js.en", "var strings = 'en';")
	writeStaticFile(t, staticDir, "strings.js.de", "var strings = 'de';")
	writeStaticFile(t, staticDir, "style.css", "body {}")

	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		WorkspaceService:  service,
		Realtime:          dispatcher,
		Logger:            zap.NewNop(),
		BasePath:          testBasePath,
		StaticDir:         staticDir,
		HelpEmail:         "help@example.com",
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testEnvironment{
		handler:    handler,
		db:         db,
		service:    service,
		dispatcher: dispatcher,
		staticDir:  staticDir,
	}
}

func writeStaticFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func saveBody(name string, nextNoteNum int, notes ...string) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, `<workspace name="%s" nextNoteNum="%d">`, name, nextNoteNum)
	for _, note := range notes {
		builder.WriteString(note)
	}
	builder.WriteString(`</workspace>`)
	return builder.String()
}
