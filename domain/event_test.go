package domain

import (
	"strings"
	"testing"
)

func TestEventMarshalOmitsUnusedIDs(t *testing.T) {
	data, err := NewCardCreated("l1").Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"card:create","listId":"l1"}` {
		t.Fatalf("unexpected payload %s", data)
	}
	data, err = NewBoardUpdated().Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"board:update"}` {
		t.Fatalf("unexpected payload %s", data)
	}
}

func TestDecodeEventRejectsMalformedPayloads(t *testing.T) {
	bad := []string{
		`not json`,
		`{"type":"card:update"}`,
		`{"type":"card:create","cardId":"c1"}`,
		`{"type":"board:update","cardId":"c1"}`,
		`{"type":"board:explode"}`,
		`[]`,
	}
	for _, payload := range bad {
		if _, err := DecodeEvent([]byte(payload)); err == nil {
			t.Fatalf("expected %s to be rejected", payload)
		}
	}
}

func TestDecodeEventAcceptsEveryVariant(t *testing.T) {
	events := []Event{
		NewBoardUpdated(), NewListCreated(), NewListUpdated(), NewListDeleted(),
		NewCardCreated("l1"), NewCardUpdated("c1"), NewCardDeleted("c1"),
		NewCommentCreated("c1"), NewCommentDeleted("c1"), NewLabelCreated(),
	}
	for _, ev := range events {
		data, err := ev.Marshal()
		if err != nil {
			t.Fatalf("marshal %s: %v", ev.Type, err)
		}
		got, err := DecodeEvent(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if got != ev {
			t.Fatalf("decoded %+v, want %+v", got, ev)
		}
	}
}

func TestValidateTitleLimits(t *testing.T) {
	if _, err := ValidateTitle("title", "   "); err == nil {
		t.Fatal("expected empty title to fail")
	}
	if _, err := ValidateTitle("title", strings.Repeat("é", MaxTitleLength+1)); err == nil {
		t.Fatal("expected long title to fail")
	}
	if got, err := ValidateTitle("title", "  Backlog "); err != nil || got != "Backlog" {
		t.Fatalf("expected trimmed title, got %q %v", got, err)
	}
	if c, err := ValidateListColor("sky"); err != nil || c != "SKY" {
		t.Fatalf("expected SKY, got %q %v", c, err)
	}
	if err := ValidateLabelColor("#12ab9F"); err != nil {
		t.Fatalf("unexpected label color error: %v", err)
	}
	if err := ValidateLabelColor("red"); err == nil {
		t.Fatal("expected invalid label color")
	}
}
