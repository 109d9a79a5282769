package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildMappingPromptListsUsersSorted(t *testing.T) {
	builder := NewBuilder()
	prompt := builder.BuildMappingPrompt(
		"Zhang San: morning everyone\nLi Si: morning, Old Zhang",
		"Morning!",
		map[string]string{"1002": "Li Si", "1001": "Zhang San"},
	)

	if !strings.Contains(prompt, "- 1001: Zhang San") || !strings.Contains(prompt, "- 1002: Li Si") {
		t.Fatalf("known users missing from prompt:\n%s", prompt)
	}
	if strings.Index(prompt, "- 1001:") > strings.Index(prompt, "- 1002:") {
		t.Fatal("user list should be sorted by id")
	}
	if !strings.Contains(prompt, "morning, Old Zhang") {
		t.Fatal("chat history missing from prompt")
	}
	if !strings.Contains(prompt, "Morning!") {
		t.Fatal("bot reply missing from prompt")
	}
	if strings.Contains(prompt, "{{") {
		t.Fatalf("unreplaced placeholder left in prompt:\n%s", prompt)
	}
}

func TestBuildMappingPromptEmptyUserMap(t *testing.T) {
	prompt := NewBuilder().BuildMappingPrompt("history", "reply", nil)
	if !strings.Contains(prompt, "none") {
		t.Fatal("empty user map should render as none")
	}
}

func TestBuildMappingPromptSkipsBlankEntries(t *testing.T) {
	prompt := NewBuilder().BuildMappingPrompt("h", "r", map[string]string{
		"1001": "Zhang San",
		"":     "ghost",
		"1002": " ",
	})
	if !strings.Contains(prompt, "- 1001: Zhang San") {
		t.Fatal("valid entry missing")
	}
	if strings.Contains(prompt, "ghost") || strings.Contains(prompt, "- 1002:") {
		t.Fatalf("blank entries leaked into prompt:\n%s", prompt)
	}
}

func TestSetRejectsTemplateWithoutPlaceholders(t *testing.T) {
	builder := NewBuilder()
	if err := builder.Set("no placeholders here"); err == nil {
		t.Fatal("expected rejection of placeholder-free template")
	}
	// Previous template must still render.
	prompt := builder.BuildMappingPrompt("h", "r", map[string]string{"1": "a"})
	if !strings.Contains(prompt, "- 1: a") {
		t.Fatal("builder lost its previous template after a rejected Set")
	}
}

func TestLoadFileOverridesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.txt")
	custom := "CUSTOM {{user_list}} | {{chat_history}} | {{bot_reply}}"
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	builder := NewBuilder()
	if err := builder.LoadFile(path); err != nil {
		t.Fatalf("load template: %v", err)
	}
	prompt := builder.BuildMappingPrompt("hist", "rep", map[string]string{"1": "a"})
	if !strings.HasPrefix(prompt, "CUSTOM") {
		t.Fatalf("override not applied: %q", prompt)
	}
	if !strings.Contains(prompt, "hist") || !strings.Contains(prompt, "rep") {
		t.Fatalf("placeholders not substituted: %q", prompt)
	}
}
