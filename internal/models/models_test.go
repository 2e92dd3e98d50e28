package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestAgent_Fields(t *testing.T) {
	typ := reflect.TypeOf(Agent{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:64")
	assertGormTag(t, typ, "Name", "not null")
	assertGormTag(t, typ, "Channel", "default:linkedin")
	assertGormTag(t, typ, "ConversationSteps", "type:text")
	assertGormTag(t, typ, "EscalationSentiments", "type:text")
	assertGormTag(t, typ, "EscalationKeywords", "type:text")
	assertGormTag(t, typ, "ConnectionStrategy", "size:32")
	assertGormTag(t, typ, "PostAcceptMessage", "type:text")
	assertGormTag(t, typ, "WorkflowEnabled", "default:false")
	assertGormTag(t, typ, "WorkflowDefinition", "type:mediumtext")

	assertFieldType(t, typ, "ConversationSteps", "string")
	assertFieldType(t, typ, "WorkflowEnabled", "bool")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
}

func TestEscalationRecord_Fields(t *testing.T) {
	typ := reflect.TypeOf(EscalationRecord{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "SessionID", "not null")
	assertGormTag(t, typ, "SessionID", "index")
	assertGormTag(t, typ, "AgentID", "index")
	assertGormTag(t, typ, "Kind", "size:16")
	assertGormTag(t, typ, "Kind", "index")
	assertGormTag(t, typ, "Value", "type:text")
	assertGormTag(t, typ, "CreatedAt", "index")

	assertFieldType(t, typ, "ID", "uint")
	assertFieldType(t, typ, "Step", "int")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
}
