package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_Defaults(t *testing.T) {
	logger, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info", logger.GetLevel())
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: "json", Out: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.WithField("session_id", "s1").Debug("hello")
	if !strings.Contains(buf.String(), `"session_id":"s1"`) {
		t.Errorf("output = %q, want json with session_id", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for bad level")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("expected error for bad format")
	}
}
