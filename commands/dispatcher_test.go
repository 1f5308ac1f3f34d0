package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"twitch-chat-bot/events"
	"twitch-chat-bot/logging"
	"twitch-chat-bot/model"
	"twitch-chat-bot/presence"
	"twitch-chat-bot/storage"
)

type harness struct {
	store    *storage.Memory
	registry *presence.Registry
	gate     *Gate
	events   *events.Recorder
	matcher  *Matcher
	disp     *Dispatcher
}

type stubLookup struct {
	info model.FollowInfo
	id   string
	err  error
}

func (s stubLookup) GetFollowInfo(context.Context, string) (model.FollowInfo, error) {
	return s.info, s.err
}

func (s stubLookup) ResolveUserID(context.Context, string) (string, error) {
	return s.id, s.err
}

func newHarness(t *testing.T, defs []model.CommandDefinition, lookup Lookup) *harness {
	t.Helper()

	h := &harness{store: storage.NewMemory(nil), events: &events.Recorder{}}
	h.registry = presence.New(h.store, storage.DefaultRanks(), nil, h.events, logging.Nop())
	h.gate = NewGate(h.events, logging.Nop())
	h.matcher = NewMatcher(defs)

	disp, err := NewDispatcher(Deps{
		Registry: h.registry,
		Ledger:   h.store,
		Lookup:   lookup,
		Gate:     h.gate,
		Commands: h.matcher.Definitions(),
		Sink:     h.events,
		Log:      logging.Nop(),
	}, Options{
		Currency:       Currency{Name: "medal", Plural: "medals", Unit: "pcs"},
		ExperienceName: "XP",
		Odds:           Odds{Win: 20, Bonus: 2},
		Ranks:          storage.DefaultRanks(),
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	h.disp = disp
	return h
}

// run проходит тот же путь, что и движок: matcher, gate, dispatcher.
func (h *harness) run(t *testing.T, sender *model.User, text string) (Reply, bool) {
	t.Helper()
	m, ok := h.matcher.Match(text)
	if !ok {
		t.Fatalf("%q did not match", text)
	}
	if !h.gate.Allowed(m.Definition, sender) {
		return Reply{}, false
	}
	return h.disp.Dispatch(context.Background(), m, sender), true
}

func (h *harness) join(name string, points int64, badges ...model.Badge) *model.User {
	u := h.registry.JoinOrGet(context.Background(), name)
	u.AddPoints(points)
	u.Observe(time.Now(), "", model.NewBadgeSet(badges...))
	return u
}

func currencyDefs() []model.CommandDefinition {
	return []model.CommandDefinition{
		{Format: "!med", Category: model.CategoryCurrency, Subtype: model.SubtypeInfo,
			Messages: model.Templates{Success: "{0} has {1} {2} ({3})"}},
		{Format: "!addgold {0} {1}", Category: model.CategoryCurrency, Subtype: model.SubtypeAdd, Permission: model.PermissionModerator,
			Cooldown: time.Hour, Messages: model.Templates{Success: "{0} +{1} = {3}", Fail: "no {0}", Error: "usage {1}"}},
		{Format: "!removegold {0} {1}", Category: model.CategoryCurrency, Subtype: model.SubtypeRemove, Permission: model.PermissionModerator,
			Messages: model.Templates{Success: "{0} -{1} = {3}", Fail: "{0} short, now {3}"}},
		{Format: "!give {0} {1}", Category: model.CategoryCurrency, Subtype: model.SubtypeTrade,
			Messages: model.Templates{Success: "{0} gave {1} to {3}, left {4}", Fail: "{0} cannot give {1}"}},
		{Format: "!gamble {0}", Category: model.CategoryCurrency, Subtype: model.SubtypeGamble,
			Messages: model.Templates{Success: "{0} won {1} x{4} -> {3}", Fail: "{0} lost {1} -> {3}", Error: "{0} no"}},
		{Format: "!addxp {0} {1}", Category: model.CategoryExperience, Subtype: model.SubtypeAdd, Permission: model.PermissionBroadcaster,
			Messages: model.Templates{Success: "{0} +{1} {2}"}},
		{Format: "!dance", Category: model.CategoryMeta, Subtype: model.SubtypeUnknown},
		{Format: "!help", Category: model.CategoryMeta, Subtype: model.SubtypeHelp, Whisper: true,
			Messages: model.Templates{Success: "{0}"}},
		{Format: "!followage", Category: model.CategoryMeta, Subtype: model.SubtypeFollowage,
			Messages: model.Templates{Success: "{0} since {1}", Fail: "{0} nope", Error: "{0} later"}},
		{Format: "!top", Category: model.CategoryCurrency, Subtype: model.SubtypeLeaderboard,
			Messages: model.Templates{Success: "top: {0}", Fail: "empty"}},
	}
}

func TestInfoRendersBalanceAndCurrency(t *testing.T) {
	h := newHarness(t, currencyDefs(), nil)
	alice := h.join("alice", 12)

	reply, _ := h.run(t, alice, "!med")
	if reply.Text != "alice has 12 medals (pcs)" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
}

func TestRemoveClampsAndRendersFail(t *testing.T) {
	h := newHarness(t, currencyDefs(), nil)
	alice := h.join("alice", 30)
	mod := h.join("mod", 0, model.BadgeModerator)

	reply, _ := h.run(t, mod, "!removegold 9999999 alice")
	if reply.Text != "alice short, now 0" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if alice.Points() != 0 {
		t.Fatalf("balance must floor at zero, got %d", alice.Points())
	}
	if saved, _, _ := h.store.LoadUser(context.Background(), "alice"); saved.Points != 0 {
		t.Fatalf("stored balance must floor at zero, got %d", saved.Points)
	}
}

func TestAdjustOfflineUserFallsBackToStore(t *testing.T) {
	h := newHarness(t, currencyDefs(), nil)
	h.store.Put(model.UserRecord{Username: "carol", Points: 5})
	mod := h.join("mod", 0, model.BadgeModerator)

	if reply, _ := h.run(t, mod, "!removegold 9 carol"); reply.Text != "carol short, now 0" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	h.gate.Reset(h.matcher.Definitions()[1])
	if reply, _ := h.run(t, mod, "!addgold 4 carol"); reply.Text != "carol +4 = 4" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	h.gate.Reset(h.matcher.Definitions()[1])
	if reply, _ := h.run(t, mod, "!addgold 4 ghost"); reply.Text != "no ghost" {
		t.Fatalf("unknown user must render fail, got %q", reply.Text)
	}
}

func TestZeroAmountResetsCooldownWithoutReply(t *testing.T) {
	h := newHarness(t, currencyDefs(), nil)
	mod := h.join("mod", 0, model.BadgeModerator)
	h.join("alice", 0)

	reply, ok := h.run(t, mod, "!addgold 0 alice")
	if !ok || reply.Text != "" {
		t.Fatalf("zero amount must produce no reply, got %q", reply.Text)
	}
	if _, ok := h.run(t, mod, "!addgold 5 alice"); !ok {
		t.Fatalf("zero amount must not consume the cooldown")
	}
	if _, ok := h.run(t, mod, "!addgold 5 alice"); ok {
		t.Fatalf("real execution must start the cooldown")
	}
}

func TestTradeMovesPointsWithoutGoingNegative(t *testing.T) {
	h := newHarness(t, currencyDefs(), nil)
	alice := h.join("alice", 10)
	bob := h.join("bob", 1)

	if reply, _ := h.run(t, alice, "!give 50 bob"); reply.Text != "alice cannot give 50" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if reply, _ := h.run(t, alice, "!give 4 @bob"); reply.Text != "alice gave 4 to bob, left 6" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if alice.Points() != 6 || bob.Points() != 5 {
		t.Fatalf("unexpected balances alice=%d bob=%d", alice.Points(), bob.Points())
	}
}

func TestGambleTiers(t *testing.T) {
	h := newHarness(t, currencyDefs(), nil)

	counts := map[int64]int{}
	for r := range 100 {
		counts[h.disp.multiplier(r)]++
	}
	if counts[3] != 2 || counts[2] != 20 || counts[0] != 78 {
		t.Fatalf("unexpected tier distribution %v", counts)
	}

	alice := h.join("alice", 10)
	h.disp.draw = func(int) int { return 0 }
	if reply, _ := h.run(t, alice, "!gamble 10"); reply.Text != "alice won 20 x3 -> 30" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	h.disp.draw = func(int) int { return 99 }
	if reply, _ := h.run(t, alice, "!gamble 30"); reply.Text != "alice lost 30 -> 0" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if reply, _ := h.run(t, alice, "!gamble 1"); reply.Text != "alice no" {
		t.Fatalf("insufficient funds must render error, got %q", reply.Text)
	}
}

func TestOddsValidation(t *testing.T) {
	for _, o := range []Odds{{Win: 80, Bonus: 20}, {Win: 99, Bonus: 1}, {Win: -1, Bonus: 0}} {
		if err := o.Validate(); !errors.Is(err, model.ErrInvalidOdds) {
			t.Fatalf("odds %+v must be rejected, got %v", o, err)
		}
	}
	if err := (Odds{Win: 20, Bonus: 2}).Validate(); err != nil {
		t.Fatalf("valid odds rejected: %v", err)
	}
}

func TestExperienceRankUpEmitsNotification(t *testing.T) {
	h := newHarness(t, currencyDefs(), nil)
	owner := h.join("owner", 0, model.BadgeBroadcaster)
	viewer := h.join("viewer", 0)
	viewer.AddExperience(10, storage.DefaultRanks())

	if reply, _ := h.run(t, owner, "!addxp 200 viewer"); reply.Text != "viewer +200 XP" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if h.events.Count(events.RankUp) != 1 {
		t.Fatalf("expected a rank-up notification, got %d", h.events.Count(events.RankUp))
	}
}

func TestOfflineExperienceCreditAnnouncesRankUp(t *testing.T) {
	h := newHarness(t, currencyDefs(), nil)
	owner := h.join("owner", 0, model.BadgeBroadcaster)
	h.store.Put(model.UserRecord{Username: "ghost", DisplayName: "Ghost", Experience: 10})

	if reply, _ := h.run(t, owner, "!addxp 200 ghost"); reply.Text != "ghost +200 XP" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if h.events.Count(events.RankUp) != 1 {
		t.Fatalf("offline credit must announce the rank-up, got %d", h.events.Count(events.RankUp))
	}
	var n events.Notification
	for _, e := range h.events.All() {
		if e.Kind == events.RankUp {
			n = e
		}
	}
	if n.Username != "ghost" || n.Detail != "Ghost" || n.Rank != "Regular" {
		t.Fatalf("unexpected notification %+v", n)
	}

	if reply, _ := h.run(t, owner, "!addxp 1 ghost"); reply.Text != "ghost +1 XP" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if h.events.Count(events.RankUp) != 1 {
		t.Fatalf("credit without a rank change must stay quiet")
	}
}

func TestUnknownSubtypeAndHelp(t *testing.T) {
	h := newHarness(t, currencyDefs(), nil)
	viewer := h.join("viewer", 0)

	if reply, _ := h.run(t, viewer, "!dance"); reply.Text != UnknownHandler {
		t.Fatalf("unknown subtype must reply with the sentinel, got %q", reply.Text)
	}

	reply, _ := h.run(t, viewer, "!help")
	if !reply.Whisper || reply.To != "viewer" {
		t.Fatalf("help must be whispered to the caller: %+v", reply)
	}
	if strings.Contains(reply.Text, "!addgold") || !strings.Contains(reply.Text, "!med") {
		t.Fatalf("help must list only permitted commands: %q", reply.Text)
	}
}

func TestFollowageUsesLookup(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, currencyDefs(), stubLookup{info: model.FollowInfo{Following: true, FollowedAt: since}})
	viewer := h.join("viewer", 0)

	m, _ := h.matcher.Match("!followage")
	if !h.disp.Async(m.Definition) {
		t.Fatalf("followage must be dispatched off the read loop")
	}
	if reply := h.disp.Dispatch(context.Background(), m, viewer); reply.Text != "viewer since 2024-03-01" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}

	failing := newHarness(t, currencyDefs(), stubLookup{err: errors.New("timeout")})
	if reply := failing.disp.Dispatch(context.Background(), m, viewer); reply.Text != "viewer later" {
		t.Fatalf("lookup failure must render error, got %q", reply.Text)
	}
}

func TestLeaderboardFlushesPresenceFirst(t *testing.T) {
	h := newHarness(t, currencyDefs(), nil)
	h.store.Put(model.UserRecord{Username: "offline", Points: 7})
	viewer := h.join("viewer", 40)

	reply, _ := h.run(t, viewer, "!top")
	if reply.Text != "top: 1. viewer (40), 2. offline (7)" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
}

func TestRandomPicksOnlyActiveChattersWithWindow(t *testing.T) {
	defs := []model.CommandDefinition{
		{Format: "!pick {0}", Category: model.CategoryMeta, Subtype: model.SubtypeRandomUser,
			Messages: model.Templates{Success: "picked {0}", Fail: "{0}: nobody", Error: "{0} bad"}},
	}
	h := newHarness(t, defs, nil)
	alice := h.join("alice", 0)
	h.registry.JoinOrGet(context.Background(), "bob")

	for range 10 {
		reply, _ := h.run(t, alice, "!pick 5")
		if reply.Text != "picked alice" {
			t.Fatalf("only chatters inside the window can be picked, got %q", reply.Text)
		}
	}

	h.registry.Disconnect(context.Background(), "alice")
	if reply, _ := h.run(t, alice, "!pick 5"); reply.Text != "alice: nobody" {
		t.Fatalf("expected fail template, got %q", reply.Text)
	}
}

func TestRandomWindowDoesNotOverflow(t *testing.T) {
	defs := []model.CommandDefinition{
		{Format: "!pick {0}", Category: model.CategoryMeta, Subtype: model.SubtypeRandomUser,
			Messages: model.Templates{Success: "picked {0}", Fail: "{0}: nobody"}},
	}
	h := newHarness(t, defs, nil)
	alice := h.join("alice", 0)

	if reply, _ := h.run(t, alice, "!pick 999999999999"); reply.Text != "picked alice" {
		t.Fatalf("a huge window must still include recent chatters, got %q", reply.Text)
	}
}
