package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileFallsBack(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Name != "Wisp" {
		t.Errorf("default persona name = %q", p.Name)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.json")
	in := &Persona{Name: "Mori", Bio: "night owl", Stealth: true}
	if err := Save(in, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Name != "Mori" || !out.Stealth {
		t.Errorf("round trip lost fields: %+v", out)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.json")
	if err := os.WriteFile(path, []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSystemPromptStealth(t *testing.T) {
	p := &Persona{Name: "Mori", Bio: "night owl", Stealth: true}
	out := p.SystemPrompt()
	if !strings.Contains(out, "Never reveal") {
		t.Errorf("stealth instructions missing:\n%s", out)
	}

	p.Stealth = false
	if strings.Contains(p.SystemPrompt(), "Never reveal") {
		t.Error("stealth instructions present when disabled")
	}
}
