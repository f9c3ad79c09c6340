package config

import "testing"

func TestValidateRejectsMissingCommand(t *testing.T) {
	c := Default()
	if _, err := c.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for missing command")
	}
}

func TestValidateRejectsImpossibleGeometry(t *testing.T) {
	c := Default()
	c.Command = "echo"
	c.Cols = 0
	if _, err := c.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for zero cols")
	}
}

func TestValidateRejectsBadRegex(t *testing.T) {
	c := Default()
	c.Command = "echo"
	c.PromptPatterns = []string{"(unterminated"}
	if _, err := c.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for invalid regex")
	}
}

func TestValidateCompilesPatternsInOrder(t *testing.T) {
	c := Default()
	c.Command = "echo"
	c.PromptPatterns = []string{"^a", "^b"}

	patterns, err := c.Validate()
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("len(patterns) = %d, want 2", len(patterns))
	}
	if !patterns[0].MatchString("a-line") || !patterns[1].MatchString("b-line") {
		t.Error("compiled patterns don't match their source order")
	}
}

func TestValidateRejectsUnknownTokenMode(t *testing.T) {
	c := Default()
	c.Command = "echo"
	c.TokenMode = "weird"
	if _, err := c.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for unknown token mode")
	}
}

func TestTokenModeCompact(t *testing.T) {
	cases := map[TokenMode]bool{
		ModeRaw:     false,
		ModeCompact: true,
		ModeParsed:  true,
	}
	for mode, want := range cases {
		if got := mode.Compact(); got != want {
			t.Errorf("%s.Compact() = %v, want %v", mode, got, want)
		}
	}
}
