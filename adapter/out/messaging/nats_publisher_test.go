package messaging

import (
	"testing"

	"mailbridge/core/domain"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func TestNewRecordPublishedEvent(t *testing.T) {
	channelID := uuid.New()
	ownerID := uuid.New()
	rec := domain.NewPublishedRecord(domain.ChannelTarget(ownerID, channelID), domain.NormalizedMessage{
		ProviderID: "m1",
		Subject:    "[TIVING] notice",
		Sender:     "noreply@example.com",
		BodyText:   "body text",
	})

	ev := newRecordPublishedEvent(rec)
	if ev.RecordID != rec.ID || ev.Title != "[TIVING] notice" || ev.Category != domain.DefaultCategory {
		t.Errorf("event = %+v", ev)
	}
	if ev.ChannelID == nil || *ev.ChannelID != channelID {
		t.Errorf("channel id = %v, want %v", ev.ChannelID, channelID)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := decoded["timestamp"]; ok {
		t.Error("empty timestamp should be omitted")
	}
	if decoded["provider_id"] != "m1" {
		t.Errorf("provider_id = %v", decoded["provider_id"])
	}
}
