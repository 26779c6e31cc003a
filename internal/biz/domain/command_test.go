package domain

import "testing"

func TestIsCommand(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		botName string
		want    bool
	}{
		{"plain command", "/help", "mybot", true},
		{"command with args", "/say hello world", "mybot", true},
		{"addressed to us", "/help@mybot", "mybot", true},
		{"addressed case insensitive", "/help@MyBot", "mybot", true},
		{"bot name with at sign", "/help@mybot", "@mybot", true},
		{"addressed to other bot", "/help@otherbot", "mybot", false},
		{"addressed without known name", "/help@mybot", "", false},
		{"leading spaces", "   /start", "mybot", true},
		{"no slash", "help", "mybot", false},
		{"only slash", "/", "mybot", false},
		{"empty", "", "mybot", false},
		{"slash then space", "/ help", "mybot", false},
		{"invalid chars", "/he-lp", "mybot", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCommand(tt.text, tt.botName); got != tt.want {
				t.Errorf("IsCommand(%q, %q) = %v, want %v", tt.text, tt.botName, got, tt.want)
			}
		})
	}
}

func TestSetRawData_RecomputesHash(t *testing.T) {
	msg := &Message{}
	msg.SetRawData(`{"message_id":"om_1"}`)
	first := msg.RawDataHash
	if first == "" {
		t.Fatal("Expected hash to be set")
	}

	msg.SetRawData(`{"message_id":"om_2"}`)
	if msg.RawDataHash == first {
		t.Error("Expected hash to change with raw data")
	}
	if msg.RawDataHash != HashRawData(`{"message_id":"om_2"}`) {
		t.Error("Expected hash to match HashRawData")
	}
}
