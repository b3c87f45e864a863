package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMessageJSONUsesStringID(t *testing.T) {
	msg := Message{
		ID:             42,
		ConversationID: "c1",
		Role:           RoleAssistant,
		Content:        "Total sales were ₹18,234.50",
		Status:         StatusSuccess,
		CreatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["id"] != "42" {
		t.Fatalf("id = %#v, want \"42\"", got["id"])
	}
	if _, ok := got["session_id"]; ok {
		t.Fatal("conversation id leaked into turn JSON")
	}
	if got["status"] != "success" || got["role"] != "assistant" {
		t.Fatalf("turn JSON = %s", data)
	}
}

func TestUserTurnOmitsStatus(t *testing.T) {
	data, err := json.Marshal(Message{ID: 1, Role: RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "status") {
		t.Fatalf("user turn JSON = %s", data)
	}
}

func TestTitleFromQuestion(t *testing.T) {
	if got := TitleFromQuestion("total sales"); got != "total sales" {
		t.Fatalf("TitleFromQuestion() = %q", got)
	}
	long := strings.Repeat("₹", 150)
	if got := TitleFromQuestion(long); len([]rune(got)) != MaxTitleLength {
		t.Fatalf("title length = %d runes", len([]rune(got)))
	}
}

func TestStreamEventJSON(t *testing.T) {
	tests := []struct {
		event StreamEvent
		want  string
	}{
		{StatusEvent("Fetching data..."), `{"type":"status","message":"Fetching data..."}`},
		{SQLEvent("SELECT 1 LIMIT 200"), `{"type":"sql","query":"SELECT 1 LIMIT 200"}`},
		{ChunkEvent("Total"), `{"type":"chunk","content":"Total"}`},
		{DoneEvent("c1", 0), `{"type":"done","session_id":"c1","row_count":0}`},
		{ErrorEvent("boom"), `{"type":"error","message":"boom"}`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.event)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if string(data) != tt.want {
			t.Fatalf("Marshal(%s) = %s, want %s", tt.event.Type, data, tt.want)
		}
	}
}
