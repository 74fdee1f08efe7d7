package internal

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/bartermate/internal/events"
	"github.com/starford/bartermate/internal/localstore"
	"github.com/starford/bartermate/internal/session"
)

func testToken(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte("test"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLoadSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sess := session.New()
	if err := loadSession(sess, SessionConfig{}, logger); err != nil {
		t.Fatalf("empty config: %v", err)
	}
	if _, ok := sess.Current(); ok {
		t.Error("expected signed out")
	}

	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(testToken(t, "from-file")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	sess = session.New()
	if err := loadSession(sess, SessionConfig{
		Token:     testToken(t, "inline"),
		TokenFile: path,
	}, logger); err != nil {
		t.Fatalf("load: %v", err)
	}
	if id, _ := sess.Current(); id.UserID != "inline" {
		t.Errorf("user = %q, want inline token to win", id.UserID)
	}

	sess = session.New()
	if err := loadSession(sess, SessionConfig{TokenFile: path}, logger); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if id, _ := sess.Current(); id.UserID != "from-file" {
		t.Errorf("user = %q", id.UserID)
	}

	if err := loadSession(session.New(), SessionConfig{Token: "garbage"}, logger); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestNewApplication(t *testing.T) {
	if _, err := newApplication(nil); err == nil {
		t.Fatal("config should be required")
	}

	var buf bytes.Buffer
	app, err := newApplication([]Option{WithConfig(NewDefaultConfig()), WithLogOutput(&buf)})
	if err != nil {
		t.Fatal(err)
	}
	newLogger(app.config, app.logOutput).Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"hello"`)) {
		t.Errorf("log output = %s", buf.String())
	}
}

func TestCoreCloseOrder(t *testing.T) {
	var order []int
	c := &core{}
	c.onClose(func() { order = append(order, 1) })
	c.onClose(func() { order = append(order, 2) })
	c.close()
	c.close()
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("order = %v", order)
	}
}

func TestNewCore_ReportsOfflineBeforeFirstProbe(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Local.Driver = localstore.DriverFS
	cfg.Local.Path = filepath.Join(dir, "store")
	cfg.Local.DataDir = filepath.Join(dir, "data")
	cfg.Remote.URI = "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=50"
	cfg.Remote.ConnectTimeout = 200 * time.Millisecond
	cfg.Realtime.Driver = RealtimeDisabled

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := newCore(context.Background(), cfg, events.Discard{}, logger)
	if err != nil {
		t.Fatalf("newCore: %v", err)
	}
	defer c.shutdown()

	if !c.network.IsOffline() {
		t.Fatal("monitor should start offline")
	}
	mfs, err := c.metrics.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, mf := range mfs {
		if mf.GetName() != "bartermate_offline" {
			continue
		}
		found = true
		if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 1 {
			t.Errorf("bartermate_offline = %v, want 1", v)
		}
	}
	if !found {
		t.Error("bartermate_offline not exported")
	}
}
