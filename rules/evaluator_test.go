package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/mkarls/showcased/config"
	"github.com/mkarls/showcased/types"
)

func testRule() config.Rule {
	return config.Rule{
		RequireLink:        true,
		RequireDescription: true,
		MinLength:          20,
		MaxStrikes:         3,
		Cooldown:           30 * time.Minute,
	}
}

func createdEvent(content string, attachments []string, at time.Time) *types.Event {
	return &types.Event{
		ID:          "evt-1",
		Type:        types.EventCreated,
		ChannelID:   "chan-showcase",
		AuthorID:    "user-1",
		Content:     content,
		Attachments: attachments,
		Timestamp:   at,
	}
}

func TestEvaluateMissingLink(t *testing.T) {
	// no link, description long enough
	e := NewEvaluator(testRule())
	now := time.Now()

	content := strings.Repeat("my project is great ", 3) // ~60 chars, no URL
	d := e.Evaluate(createdEvent(content, nil, now), types.ZeroState("user-1"))

	if d.Outcome != types.OutcomeViolation {
		t.Fatalf("Outcome = %v, want violation", d.Outcome)
	}
	if d.Reason != types.ReasonMissingLink {
		t.Errorf("Reason = %v, want missing_link", d.Reason)
	}
}

func TestEvaluatePass(t *testing.T) {
	// link plus a 30-character description
	e := NewEvaluator(testRule())
	now := time.Now()

	content := "a tool for organizing bookmarks https://example.com/tool"
	d := e.Evaluate(createdEvent(content, nil, now), types.ZeroState("user-1"))

	if d.Outcome != types.OutcomePass {
		t.Fatalf("Outcome = %v (reason %v), want pass", d.Outcome, d.Reason)
	}
	if d.Reason != "" {
		t.Errorf("Reason = %v, want empty", d.Reason)
	}
}

func TestEvaluateCooldownActive(t *testing.T) {
	// second post one second into the cooldown window
	e := NewEvaluator(testRule())
	now := time.Now()

	state := types.ZeroState("user-1")
	state.RecordValidPost(now, 30*time.Minute)

	evt := createdEvent("another project https://example.com with description", nil, now.Add(time.Second))
	d := e.Evaluate(evt, state)

	if d.Outcome != types.OutcomeViolation {
		t.Fatalf("Outcome = %v, want violation", d.Outcome)
	}
	if d.Reason != types.ReasonCooldownActive {
		t.Errorf("Reason = %v, want cooldown_active", d.Reason)
	}
}

func TestEvaluateCooldownExpired(t *testing.T) {
	e := NewEvaluator(testRule())
	now := time.Now()

	state := types.ZeroState("user-1")
	state.RecordValidPost(now.Add(-time.Hour), 30*time.Minute)

	evt := createdEvent("fresh showcase of my new thing https://example.com", nil, now)
	d := e.Evaluate(evt, state)

	if d.Outcome != types.OutcomePass {
		t.Errorf("Outcome = %v (reason %v), want pass after cooldown expiry", d.Outcome, d.Reason)
	}
}

func TestEvaluateCheckOrder(t *testing.T) {
	// cooldown outranks link, link outranks description
	e := NewEvaluator(testRule())
	now := time.Now()

	inCooldown := types.ZeroState("user-1")
	inCooldown.RecordValidPost(now.Add(-time.Minute), 30*time.Minute)

	d := e.Evaluate(createdEvent("short", nil, now), inCooldown)
	if d.Reason != types.ReasonCooldownActive {
		t.Errorf("Reason = %v, want cooldown_active first", d.Reason)
	}

	d = e.Evaluate(createdEvent("short", nil, now), types.ZeroState("user-1"))
	if d.Reason != types.ReasonMissingLink {
		t.Errorf("Reason = %v, want missing_link before missing_description", d.Reason)
	}
}

func TestEvaluateMissingDescription(t *testing.T) {
	e := NewEvaluator(testRule())
	now := time.Now()

	tests := []struct {
		name        string
		content     string
		attachments []string
		want        types.Reason
	}{
		{
			name:    "url only",
			content: "https://example.com/project",
			want:    types.ReasonMissingDescription,
		},
		{
			name:    "url plus short text",
			content: "my thing https://example.com",
			want:    types.ReasonMissingDescription,
		},
		{
			name:        "attachment with short text",
			content:     "look",
			attachments: []string{"https://cdn.example.com/shot.png"},
			want:        types.ReasonMissingDescription,
		},
		{
			name:    "urls do not count toward description length",
			content: "ok https://a.example.com https://b.example.com https://c.example.com",
			want:    types.ReasonMissingDescription,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(createdEvent(tt.content, tt.attachments, now), types.ZeroState("user-1"))
			if d.Outcome != types.OutcomeViolation || d.Reason != tt.want {
				t.Errorf("got %v/%v, want violation/%v", d.Outcome, d.Reason, tt.want)
			}
		})
	}
}

func TestEvaluateAttachmentSatisfiesLink(t *testing.T) {
	e := NewEvaluator(testRule())
	now := time.Now()

	evt := createdEvent("a small game engine written over the weekend", []string{"https://cdn.example.com/demo.mp4"}, now)
	d := e.Evaluate(evt, types.ZeroState("user-1"))

	if d.Outcome != types.OutcomePass {
		t.Errorf("Outcome = %v (reason %v), want pass", d.Outcome, d.Reason)
	}
}

func TestEvaluateOptionalRequirements(t *testing.T) {
	now := time.Now()

	linkOnly := NewEvaluator(config.Rule{RequireLink: true, MinLength: 20})
	d := linkOnly.Evaluate(createdEvent("x https://example.com", nil, now), types.ZeroState("user-1"))
	if d.Outcome != types.OutcomePass {
		t.Errorf("link-only rule: Outcome = %v, want pass", d.Outcome)
	}

	descOnly := NewEvaluator(config.Rule{RequireDescription: true, MinLength: 10})
	d = descOnly.Evaluate(createdEvent("a plain description with no link at all", nil, now), types.ZeroState("user-1"))
	if d.Outcome != types.OutcomePass {
		t.Errorf("description-only rule: Outcome = %v, want pass", d.Outcome)
	}
}

func TestEvaluateDeterminism(t *testing.T) {
	e := NewEvaluator(testRule())
	now := time.Unix(1700000000, 0)

	evt := createdEvent("some content without a link that is long enough", nil, now)
	state := types.ZeroState("user-1")

	first := e.Evaluate(evt, state)
	for i := 0; i < 10; i++ {
		again := e.Evaluate(evt, state)
		if again != first {
			t.Fatalf("Evaluate not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestEvaluateEditReusesSameRules(t *testing.T) {
	// an edit that cures a violation produces a fresh pass
	e := NewEvaluator(testRule())
	now := time.Now()

	edit := &types.Event{
		ID:        "msg-1:edit:123",
		Type:      types.EventEdited,
		ChannelID: "chan-showcase",
		AuthorID:  "user-1",
		Content:   "now includes the link https://example.com and enough words",
		Timestamp: now,
	}
	d := e.Evaluate(edit, types.ZeroState("user-1"))
	if d.Outcome != types.OutcomePass {
		t.Errorf("cured edit: Outcome = %v (reason %v), want pass", d.Outcome, d.Reason)
	}
	if d.EventID != edit.ID {
		t.Errorf("EventID = %v, want %v", d.EventID, edit.ID)
	}
}

func TestEvaluateEditInsideOwnCooldown(t *testing.T) {
	// the valid post at T opened the cooldown window; editing that post
	// at T+5m must not be treated as a new post inside it
	e := NewEvaluator(testRule())
	postAt := time.Now()

	state := types.ZeroState("user-1")
	state.RecordValidPost(postAt, 30*time.Minute)

	edit := &types.Event{
		ID:        "msg-1:edit:456",
		Type:      types.EventEdited,
		ChannelID: "chan-showcase",
		AuthorID:  "user-1",
		Content:   "updated the writeup https://example.com still plenty of words",
		Timestamp: postAt.Add(5 * time.Minute),
	}
	d := e.Evaluate(edit, state)
	if d.Outcome != types.OutcomePass {
		t.Errorf("edit in own cooldown: Outcome = %v (reason %v), want pass", d.Outcome, d.Reason)
	}
}
