package cmd

import (
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func parseDoc(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(src), &root); err != nil {
		t.Fatal(err)
	}
	return &root
}

func encodeDoc(t *testing.T, root *yaml.Node) string {
	t.Helper()
	out, err := yaml.Marshal(root)
	if err != nil {
		t.Fatal(err)
	}
	return string(out)
}

func TestSetKeyPreservesComments(t *testing.T) {
	root := parseDoc(t, "# my config\nprovider: anthropic # default\nopenai:\n  model: gpt-4.1\n")

	if err := setKey(root, []string{"provider"}, "openai"); err != nil {
		t.Fatal(err)
	}
	if err := setKey(root, []string{"openai", "model"}, "gpt-4.1-mini"); err != nil {
		t.Fatal(err)
	}
	if err := setKey(root, []string{"sessions", "max_age_days"}, "14"); err != nil {
		t.Fatal(err)
	}

	out := encodeDoc(t, root)
	for _, want := range []string{"# my config", "provider: openai", "model: gpt-4.1-mini", "max_age_days: 14"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestGetKey(t *testing.T) {
	root := parseDoc(t, "provider: gemini\ngemini:\n  model: gemini-2.5-flash\n")

	got, err := getKey(root, []string{"gemini", "model"})
	if err != nil || got != "gemini-2.5-flash" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := getKey(root, []string{"openai", "model"}); err == nil {
		t.Error("expected error for missing key")
	}
	if _, err := getKey(root, []string{"gemini"}); err == nil {
		t.Error("expected error for non-scalar value")
	}
}

func TestLoadDocumentMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := loadDocument(path, false); err == nil {
		t.Fatal("expected error for missing file")
	}
	root, err := loadDocument(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := setKey(root, []string{"provider"}, "openai"); err != nil {
		t.Fatal(err)
	}
	if out := encodeDoc(t, root); strings.TrimSpace(out) != "provider: openai" {
		t.Errorf("got %q", out)
	}
}
