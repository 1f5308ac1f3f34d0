package commands

import (
	"testing"

	"twitch-chat-bot/model"
)

func testDefinitions() []model.CommandDefinition {
	return []model.CommandDefinition{
		{Format: "!gold", Category: model.CategoryCurrency, Subtype: model.SubtypeInfo},
		{Format: "!addgold {0} {1}", Category: model.CategoryCurrency, Subtype: model.SubtypeAdd, Permission: model.PermissionModerator},
		{Format: "!xptop", Category: model.CategoryExperience, Subtype: model.SubtypeLeaderboard},
		{Format: "!xp", Category: model.CategoryExperience, Subtype: model.SubtypeInfo},
	}
}

func TestMatcherMatchesArity(t *testing.T) {
	m := NewMatcher(testDefinitions())

	got, ok := m.Match("!addgold 50 alice")
	if !ok {
		t.Fatalf("expected !addgold 50 alice to match")
	}
	if got.Definition.Format != "!addgold {0} {1}" {
		t.Fatalf("unexpected definition %q", got.Definition.Format)
	}
	if len(got.Args) != 2 || got.Args[0] != "50" || got.Args[1] != "alice" {
		t.Fatalf("unexpected args %v", got.Args)
	}

	if _, ok := m.Match("!addgold 50"); ok {
		t.Fatalf("wrong arity must not match")
	}
}

func TestMatcherIsCaseInsensitiveAndStripsAt(t *testing.T) {
	m := NewMatcher(testDefinitions())

	got, ok := m.Match("!AddGold   7 @Bob")
	if !ok || got.Args[1] != "Bob" {
		t.Fatalf("expected match with stripped @, got %+v ok=%v", got, ok)
	}
}

func TestMatcherDiscardsStrictFailure(t *testing.T) {
	m := NewMatcher(testDefinitions())

	if _, ok := m.Match("!addgold lots alice"); ok {
		t.Fatalf("non-numeric amount must be discarded")
	}
	// "!xp" входит в формат "!xptop", который зарегистрирован раньше; строгая проверка отбрасывает ввод
	if _, ok := m.Match("!xp"); ok {
		t.Fatalf("structural match that fails the regexp must discard the input")
	}
	if _, ok := m.Match("hello there"); ok {
		t.Fatalf("plain chat must not match")
	}
}

func TestMatcherFirstRegisteredWins(t *testing.T) {
	m := NewMatcher([]model.CommandDefinition{
		{Format: "!roll {0}", Subtype: model.SubtypeGamble},
		{Format: "!roll {0}", Subtype: model.SubtypeRandomUser},
	})

	got, ok := m.Match("!roll 3")
	if !ok || got.Definition.Subtype != model.SubtypeGamble {
		t.Fatalf("first definition must win, got %+v", got.Definition)
	}
}

func TestRender(t *testing.T) {
	got := Render("{0} has {1} {2}, {0}!", "Alice", 3, "coins")
	if got != "Alice has 3 coins, Alice!" {
		t.Fatalf("unexpected render %q", got)
	}
	if Render("{0} and {5}", "x") != "x and {5}" {
		t.Fatalf("missing arguments must stay as placeholders")
	}
}
