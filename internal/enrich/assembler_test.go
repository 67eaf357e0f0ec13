package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeDirectory struct {
	member     *domain.Member
	memberErr  error
	history    []domain.HistoryMessage
	historyErr error
	panics     bool

	memberCalls  atomic.Int32
	historyCalls atomic.Int32
	lastLimit    atomic.Int32
	lastBefore   atomic.Value
}

func (f *fakeDirectory) Member(ctx context.Context, guildID, userID string) (*domain.Member, error) {
	f.memberCalls.Add(1)
	if f.panics {
		panic("member lookup failed")
	}
	return f.member, f.memberErr
}

func (f *fakeDirectory) History(ctx context.Context, channelID, beforeID string, limit int) ([]domain.HistoryMessage, error) {
	f.historyCalls.Add(1)
	f.lastLimit.Store(int32(limit))
	f.lastBefore.Store(beforeID)
	if f.panics {
		panic("history lookup failed")
	}
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	out := make([]domain.HistoryMessage, len(f.history))
	copy(out, f.history)
	return out, nil
}

func strPtr(s string) *string { return &s }

func guildEvent() domain.InboundEvent {
	return domain.InboundEvent{
		MessageID:           "m100",
		ChannelID:           "c1",
		GuildID:             strPtr("g1"),
		AuthorID:            "u1",
		AuthorUsername:      "alice",
		AuthorGlobalName:    "Alice A.",
		AuthorDiscriminator: "0",
		Content:             "hi",
	}
}

// history returns n messages, newest first, like the gateway does.
func history(n int) []domain.HistoryMessage {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.HistoryMessage, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, domain.HistoryMessage{
			ID:        fmt.Sprintf("h%d", i),
			AuthorID:  "u2",
			Content:   fmt.Sprintf("msg %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestIdentity_Enriched(t *testing.T) {
	dir := &fakeDirectory{member: &domain.Member{
		Nick:  "Ally",
		Roles: []domain.Role{{ID: "r1", Name: "mod"}},
	}}
	a := NewAssembler(Config{Directory: dir, EnrichMembers: true, Logger: testLogger()})

	ident := a.Identity(context.Background(), guildEvent())
	if ident.UserID != "u1" || ident.Username != "alice" {
		t.Errorf("base fields missing: %+v", ident)
	}
	if ident.DisplayName == nil || *ident.DisplayName != "Ally" {
		t.Errorf("display name: %v", ident.DisplayName)
	}
	if len(ident.Roles) != 1 || ident.Roles[0].Name != "mod" {
		t.Errorf("roles: %+v", ident.Roles)
	}
}

func TestIdentity_DisplayNameFallsBackToGlobalName(t *testing.T) {
	dir := &fakeDirectory{member: &domain.Member{}}
	a := NewAssembler(Config{Directory: dir, EnrichMembers: true, Logger: testLogger()})

	ident := a.Identity(context.Background(), guildEvent())
	if ident.DisplayName == nil || *ident.DisplayName != "Alice A." {
		t.Errorf("display name: %v", ident.DisplayName)
	}
	if ident.Roles == nil || len(ident.Roles) != 0 {
		t.Errorf("roles should be empty, got %#v", ident.Roles)
	}
}

func TestIdentity_EnrichmentFailure(t *testing.T) {
	dir := &fakeDirectory{memberErr: errors.New("403 missing access")}
	a := NewAssembler(Config{Directory: dir, EnrichMembers: true, Logger: testLogger()})

	ident := a.Identity(context.Background(), guildEvent())
	if ident.UserID != "u1" || ident.Username != "alice" || ident.GlobalName != "Alice A." {
		t.Errorf("base fields missing: %+v", ident)
	}
	if ident.DisplayName != nil {
		t.Errorf("display name should be nil, got %q", *ident.DisplayName)
	}
	if ident.Roles == nil || len(ident.Roles) != 0 {
		t.Errorf("roles should be empty, got %#v", ident.Roles)
	}
}

func TestIdentity_DisabledMatchesFailure(t *testing.T) {
	failing := NewAssembler(Config{Directory: &fakeDirectory{memberErr: errors.New("boom")}, EnrichMembers: true, Logger: testLogger()})
	dir := &fakeDirectory{member: &domain.Member{Nick: "x"}}
	disabled := NewAssembler(Config{Directory: dir, EnrichMembers: false, Logger: testLogger()})

	a := failing.Identity(context.Background(), guildEvent())
	b := disabled.Identity(context.Background(), guildEvent())
	if a.DisplayName != nil || b.DisplayName != nil || len(a.Roles) != len(b.Roles) {
		t.Errorf("disabled and failed enrichment differ: %+v vs %+v", a, b)
	}
	if dir.memberCalls.Load() != 0 {
		t.Error("disabled enrichment should not look up members")
	}
}

func TestIdentity_DMSkipsLookup(t *testing.T) {
	dir := &fakeDirectory{member: &domain.Member{Nick: "x"}}
	a := NewAssembler(Config{Directory: dir, EnrichMembers: true, Logger: testLogger()})

	ev := guildEvent()
	ev.GuildID = nil
	ident := a.Identity(context.Background(), ev)
	if ident.DisplayName != nil {
		t.Error("dm identity should not be enriched")
	}
	if dir.memberCalls.Load() != 0 {
		t.Error("dm should not look up members")
	}
}

func TestContext_MostRecentAscending(t *testing.T) {
	dir := &fakeDirectory{history: history(10)}
	a := NewAssembler(Config{Directory: dir, ContextMessages: 4, Logger: testLogger()})

	window := a.Context(context.Background(), guildEvent())
	if len(window) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(window))
	}
	want := []string{"h6", "h7", "h8", "h9"}
	for i, m := range window {
		if m.ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, m.ID, want[i])
		}
		if i > 0 && !window[i-1].Timestamp.Before(m.Timestamp) {
			t.Errorf("not ascending at %d", i)
		}
	}
	if got := dir.lastBefore.Load(); got != "m100" {
		t.Errorf("history should be fetched before the event, got %v", got)
	}
}

func TestContext_Disabled(t *testing.T) {
	dir := &fakeDirectory{history: history(3)}
	a := NewAssembler(Config{Directory: dir, ContextMessages: 0, Logger: testLogger()})

	window := a.Context(context.Background(), guildEvent())
	if window == nil || len(window) != 0 {
		t.Errorf("expected empty window, got %#v", window)
	}
	if dir.historyCalls.Load() != 0 {
		t.Error("disabled window should not fetch history")
	}
}

func TestContext_CappedAtTwenty(t *testing.T) {
	dir := &fakeDirectory{history: history(50)}
	a := NewAssembler(Config{Directory: dir, ContextMessages: 500, Logger: testLogger()})

	window := a.Context(context.Background(), guildEvent())
	if len(window) != MaxContextMessages {
		t.Errorf("expected %d messages, got %d", MaxContextMessages, len(window))
	}
	if got := dir.lastLimit.Load(); got != MaxContextMessages {
		t.Errorf("fetch limit: got %d", got)
	}
}

func TestContext_FetchFailure(t *testing.T) {
	dir := &fakeDirectory{historyErr: errors.New("timeout")}
	a := NewAssembler(Config{Directory: dir, ContextMessages: 5, Logger: testLogger()})

	window := a.Context(context.Background(), guildEvent())
	if window == nil || len(window) != 0 {
		t.Errorf("expected empty window, got %#v", window)
	}
}

func TestAssemble_Both(t *testing.T) {
	dir := &fakeDirectory{
		member:  &domain.Member{Nick: "Ally"},
		history: history(2),
	}
	a := NewAssembler(Config{Directory: dir, ContextMessages: 5, EnrichMembers: true, Logger: testLogger()})

	ident, window := a.Assemble(context.Background(), guildEvent())
	if ident.DisplayName == nil || *ident.DisplayName != "Ally" {
		t.Errorf("identity not enriched: %+v", ident)
	}
	if len(window) != 2 || window[0].ID != "h0" {
		t.Errorf("unexpected window: %+v", window)
	}
}

func TestAssemble_DirectoryPanicFallsBack(t *testing.T) {
	dir := &fakeDirectory{panics: true}
	a := NewAssembler(Config{
		Directory:       dir,
		ContextMessages: 5,
		EnrichMembers:   true,
		Logger:          testLogger(),
	})

	ev := guildEvent()
	ident, window := a.Assemble(context.Background(), ev)

	if ident.DisplayName != nil || ident.Roles == nil || len(ident.Roles) != 0 {
		t.Errorf("expected base identity, got %+v", ident)
	}
	if ident.UserID != ev.AuthorID || ident.Username != ev.AuthorUsername {
		t.Errorf("base fields lost: %+v", ident)
	}
	if window == nil || len(window) != 0 {
		t.Errorf("expected empty context, got %v", window)
	}
	if dir.memberCalls.Load() != 1 || dir.historyCalls.Load() != 1 {
		t.Errorf("expected both lookups attempted: member=%d history=%d",
			dir.memberCalls.Load(), dir.historyCalls.Load())
	}
}
