package bridge

import (
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"corrade-discord-bridge/config"
	"corrade-discord-bridge/internal/logger"
)

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

type fakePublisher struct {
	published [][]byte
	err       error
}

func (f *fakePublisher) Publish(payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, payload)
	return nil
}

type sentText struct {
	channelID string
	text      string
}

type fakeSender struct {
	sent []sentText
	err  error
}

func (f *fakeSender) SendText(channelID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentText{channelID: channelID, text: text})
	return nil
}

func setupTestEngine(t *testing.T) (*Engine, *fakePublisher, *fakeSender) {
	t.Helper()

	log, err := logger.NewLogger(&config.LogConfig{
		Level:       "error",
		Encoding:    "console",
		LogToStdout: true,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	cfg := &config.Config{
		Corrade: config.CorradeConfig{
			Group: config.GroupConfig{
				Name:     "Alpha",
				Password: "secret",
				UUID:     "c7a2a2e3-2a88-4a0e-84cd-1b6b3a2d9c11",
			},
		},
		Discord: config.DiscordConfig{
			Server:  "My Server",
			Channel: "general",
		},
	}

	pub := &fakePublisher{}
	snd := &fakeSender{}
	engine := NewEngine(cfg, pub, snd, log, nil)
	return engine, pub, snd
}

// groupPayload builds a URL-encoded group notification payload.
func groupPayload(group, firstname, lastname, message string) []byte {
	v := url.Values{}
	v.Set("type", "group")
	v.Set("group", group)
	v.Set("firstname", firstname)
	v.Set("lastname", lastname)
	v.Set("message", message)
	return []byte(v.Encode())
}

func TestBrokerPathChannelUnresolved(t *testing.T) {
	engine, _, snd := setupTestEngine(t)

	engine.processBrokerMessage(groupPayload("Alpha", "Jane", "Doe", "hello"))

	if len(snd.sent) != 0 {
		t.Errorf("expected no forwards with unresolved channel, got %d", len(snd.sent))
	}
	if got := engine.GetStats().Suppressed; got != 1 {
		t.Errorf("Suppressed = %d, want 1", got)
	}
}

func TestBrokerPathDecisions(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		wantSent bool
		wantText string
	}{
		{
			name:     "forwards group notification",
			payload:  groupPayload("Alpha", "Jane", "Doe", "hello there"),
			wantSent: true,
			wantText: "Jane Doe [SL]: hello there",
		},
		{
			name:     "group name comparison is case-insensitive",
			payload:  groupPayload("alpha", "Jane", "Doe", "hi"),
			wantSent: true,
			wantText: "Jane Doe [SL]: hi",
		},
		{
			name:     "suppresses foreign group",
			payload:  groupPayload("Beta", "Jane", "Doe", "hi"),
			wantSent: false,
		},
		{
			name:     "suppresses missing notification type",
			payload:  []byte("group=Alpha&firstname=Jane&lastname=Doe&message=hi"),
			wantSent: false,
		},
		{
			name:     "suppresses wrong notification type",
			payload:  []byte("type=friendship&group=Alpha&firstname=Jane&lastname=Doe&message=hi"),
			wantSent: false,
		},
		{
			name:     "suppresses system message",
			payload:  groupPayload("Alpha", "Second", "Life", "no members online"),
			wantSent: false,
		},
		{
			name:     "suppresses relayed echo",
			payload:  groupPayload("Alpha", "Jane", "Doe", "Bob#4521 [Discord]: hello"),
			wantSent: false,
		},
		{
			name:     "suppresses malformed payload",
			payload:  []byte("%zz%%%"),
			wantSent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _, snd := setupTestEngine(t)
			engine.processChannelResolved("chan-1")

			engine.processBrokerMessage(tt.payload)

			if tt.wantSent {
				if len(snd.sent) != 1 {
					t.Fatalf("expected 1 forward, got %d", len(snd.sent))
				}
				if snd.sent[0].channelID != "chan-1" {
					t.Errorf("channelID = %q, want %q", snd.sent[0].channelID, "chan-1")
				}
				if snd.sent[0].text != tt.wantText {
					t.Errorf("text = %q, want %q", snd.sent[0].text, tt.wantText)
				}
			} else if len(snd.sent) != 0 {
				t.Errorf("expected suppression, got forward %q", snd.sent[0].text)
			}
		})
	}
}

func TestRelayedMessageRegex(t *testing.T) {
	tests := []struct {
		message string
		match   bool
	}{
		{"Bob#4521 [Discord]: hello", true},
		{"Name#123 [Discord]: text", true},
		{"first line\nBob#4521 [Discord]: hi", true},
		{"Bob [Discord]: hello", false},
		{"Bob#abc [Discord]: hello", false},
		{"Bob#4521 [SL]: hello", false},
		{"plain chat message", false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := relayedMessageRegex.MatchString(tt.message); got != tt.match {
				t.Errorf("MatchString(%q) = %v, want %v", tt.message, got, tt.match)
			}
		})
	}
}

func TestStatusReportCorrelation(t *testing.T) {
	engine, _, _ := setupTestEngine(t)
	engine.processChannelResolved("chan-1")

	payload := url.Values{}
	payload.Set("command", "tell")
	payload.Set("message", "Bob#4521 [Discord]: hi")
	engine.pending.Insert("id-1", payload)

	report := []byte("command=reply&success=True&id=id-1")
	engine.processBrokerMessage(report)

	if _, found := engine.pending.Remove("id-1"); found {
		t.Error("pending entry should have been removed by the status report")
	}

	// A second report for the same id is orphaned: logged, no crash, no
	// further state change.
	engine.processBrokerMessage(report)
	if got := engine.pending.Len(); got != 0 {
		t.Errorf("pending table size = %d, want 0", got)
	}
}

func TestStatusReportFailure(t *testing.T) {
	engine, _, _ := setupTestEngine(t)
	engine.processChannelResolved("chan-1")

	payload := url.Values{}
	payload.Set("message", "Bob#4521 [Discord]: hi")
	engine.pending.Insert("id-2", payload)

	engine.processBrokerMessage([]byte("command=reply&success=False&id=id-2"))

	if engine.pending.Len() != 0 {
		t.Error("failed delivery should still discard the pending entry")
	}
}

func TestStatusReportWithoutSuccess(t *testing.T) {
	engine, _, _ := setupTestEngine(t)
	engine.processChannelResolved("chan-1")

	payload := url.Values{}
	engine.pending.Insert("id-3", payload)

	// Incomplete report: no success field, dropped silently.
	engine.processBrokerMessage([]byte("command=reply&id=id-3"))

	if engine.pending.Len() != 1 {
		t.Error("incomplete report must not touch the pending table")
	}
}

func TestStatusReportUnknownID(t *testing.T) {
	engine, _, _ := setupTestEngine(t)
	engine.processChannelResolved("chan-1")

	engine.processBrokerMessage([]byte("command=reply&success=True&id=not-ours"))
	engine.processBrokerMessage([]byte("command=reply&success=True"))

	if got := engine.GetStats().Acked; got != 0 {
		t.Errorf("Acked = %d, want 0 for orphaned reports", got)
	}
}

func TestChatRoundTrip(t *testing.T) {
	engine, pub, _ := setupTestEngine(t)
	engine.processChannelResolved("chan-1")

	engine.processChatMessage(ChatMessage{
		AuthorName:          "Bob",
		AuthorDiscriminator: "4521",
		Content:             "hello",
		ChannelID:           "chan-1",
		ChannelName:         "general",
		ChannelKind:         ChannelKindText,
		ServerName:          "My Server",
	})

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.published))
	}

	values, err := url.ParseQuery(string(pub.published[0]))
	if err != nil {
		t.Fatalf("published payload does not parse: %v", err)
	}

	want := map[string]string{
		"command":  "tell",
		"group":    "Alpha",
		"password": "secret",
		"entity":   "group",
		"target":   "c7a2a2e3-2a88-4a0e-84cd-1b6b3a2d9c11",
		"message":  "Bob#4521 [Discord]: hello",
	}
	for key, wantVal := range want {
		if got := values.Get(key); got != wantVal {
			t.Errorf("payload[%s] = %q, want %q", key, got, wantVal)
		}
	}

	id := values.Get("id")
	if id == "" {
		t.Fatal("payload is missing a correlation id")
	}
	if engine.pending.Len() != 1 {
		t.Fatalf("pending table size = %d, want 1", engine.pending.Len())
	}

	// The matching status report clears the entry.
	engine.processBrokerMessage([]byte(fmt.Sprintf("command=reply&success=True&id=%s", id)))
	if engine.pending.Len() != 0 {
		t.Error("status report should clear the pending entry")
	}
}

func TestChatPathSuppressions(t *testing.T) {
	base := ChatMessage{
		AuthorName:          "Bob",
		AuthorDiscriminator: "4521",
		Content:             "hello",
		ChannelID:           "chan-1",
		ChannelKind:         ChannelKindText,
		ServerName:          "My Server",
	}

	tests := []struct {
		name   string
		modify func(m *ChatMessage)
	}{
		{"bot author", func(m *ChatMessage) { m.AuthorBot = true }},
		{"empty message", func(m *ChatMessage) { m.Content = "" }},
		{"wrong channel", func(m *ChatMessage) { m.ChannelID = "chan-2" }},
		{"wrong server", func(m *ChatMessage) { m.ServerName = "Other Server" }},
		{"voice channel", func(m *ChatMessage) { m.ChannelKind = "voice" }},
		{"category channel", func(m *ChatMessage) { m.ChannelKind = "category" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, pub, _ := setupTestEngine(t)
			engine.processChannelResolved("chan-1")

			msg := base
			tt.modify(&msg)
			engine.processChatMessage(msg)

			if len(pub.published) != 0 {
				t.Errorf("expected suppression, got publish %q", pub.published[0])
			}
			if engine.pending.Len() != 0 {
				t.Errorf("no pending entry may be created on suppression")
			}
		})
	}
}

func TestChatAttachments(t *testing.T) {
	engine, pub, _ := setupTestEngine(t)
	engine.processChannelResolved("chan-1")

	engine.processChatMessage(ChatMessage{
		AuthorName:          "Bob",
		AuthorDiscriminator: "4521",
		Content:             "look",
		Attachments:         []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"},
		ChannelID:           "chan-1",
		ChannelKind:         ChannelKindText,
		ServerName:          "My Server",
	})

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.published))
	}
	values, err := url.ParseQuery(string(pub.published[0]))
	if err != nil {
		t.Fatalf("published payload does not parse: %v", err)
	}

	want := "Bob#4521 [Discord]: look https://cdn.example.com/a.png https://cdn.example.com/b.png"
	if got := values.Get("message"); got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

func TestChatAttachmentOnlyMessageIsRelayed(t *testing.T) {
	engine, pub, _ := setupTestEngine(t)
	engine.processChannelResolved("chan-1")

	engine.processChatMessage(ChatMessage{
		AuthorName:          "Bob",
		AuthorDiscriminator: "4521",
		Attachments:         []string{"https://cdn.example.com/a.png"},
		ChannelID:           "chan-1",
		ChannelKind:         ChannelKindText,
		ServerName:          "My Server",
	})

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.published))
	}
	if !strings.Contains(string(pub.published[0]), "a.png") {
		t.Error("attachment URL missing from published payload")
	}
}

func TestChannelHandleIsSingleAssignment(t *testing.T) {
	engine, _, snd := setupTestEngine(t)

	engine.processChannelResolved("chan-1")
	engine.processChannelResolved("chan-2")

	engine.processBrokerMessage(groupPayload("Alpha", "Jane", "Doe", "hi"))

	if len(snd.sent) != 1 {
		t.Fatalf("expected 1 forward, got %d", len(snd.sent))
	}
	if snd.sent[0].channelID != "chan-1" {
		t.Errorf("forwarded to %q, want the first resolved channel %q", snd.sent[0].channelID, "chan-1")
	}
}

func TestEngineEventLoop(t *testing.T) {
	engine, pub, snd := setupTestEngine(t)
	engine.Start()
	defer engine.Close()

	engine.SetChannel("chan-1")
	engine.HandleChatMessage(ChatMessage{
		AuthorName:          "Bob",
		AuthorDiscriminator: "4521",
		Content:             "hello",
		ChannelID:           "chan-1",
		ChannelKind:         ChannelKindText,
		ServerName:          "My Server",
	})
	engine.HandleBrokerMessage(groupPayload("Alpha", "Jane", "Doe", "hi"))

	waitFor(t, func() bool {
		return engine.GetStats().Relayed == 2
	})

	if len(pub.published) != 1 {
		t.Errorf("expected 1 broker publish, got %d", len(pub.published))
	}
	if len(snd.sent) != 1 {
		t.Errorf("expected 1 discord send, got %d", len(snd.sent))
	}
}
