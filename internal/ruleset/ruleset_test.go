package ruleset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFile(t *testing.T) {
	rs := Build(Rules{
		Domain:       []string{"exact.example.com"},
		DomainSuffix: []string{"example.org"},
		IPCIDR:       []string{"10.0.0.0/8"},
	})

	path := filepath.Join(t.TempDir(), "test.json")
	if err := rs.WriteFile(path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var decoded RuleSet
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if decoded.Version != 3 {
		t.Errorf("Expected version 3, got %d", decoded.Version)
	}
	if len(decoded.Rules) != 3 {
		t.Errorf("Expected 3 rule entries, got %d", len(decoded.Rules))
	}
	if !strings.Contains(string(data), "  \"version\": 3") {
		t.Error("Expected 2-space indented output")
	}
}
