package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/masking"
)

const erasurePolicy = `
key: default_erasure
rules:
  - name: access contact
    action_type: access
    target_categories: [user]
  - name: mask contact
    action_type: erasure
    target_categories: [user.contact]
    masking_strategy:
      strategy: hash
      configuration:
        algorithm: SHA-512
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(erasurePolicy))
	require.NoError(t, err)
	require.Equal(t, "default_erasure", p.Key)
	require.True(t, p.HasAction(ActionAccess))
	require.True(t, p.HasAction(ActionErasure))
	require.False(t, p.HasAction(ActionConsent))

	erasure := p.RulesFor(ActionErasure)
	require.Len(t, erasure, 1)
	require.Equal(t, &masking.Config{Strategy: "hash", Configuration: map[string]any{"algorithm": "SHA-512"}}, erasure[0].MaskingStrategy)
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"missing_key":      `rules: [{name: a, action_type: access, target_categories: [user]}]`,
		"no_rules":         `key: p`,
		"bad_action":       `{key: p, rules: [{name: a, action_type: delete, target_categories: [user]}]}`,
		"erasure_no_mask":  `{key: p, rules: [{name: a, action_type: erasure, target_categories: [user]}]}`,
		"unknown_strategy": `{key: p, rules: [{name: a, action_type: erasure, target_categories: [user], masking_strategy: {strategy: shred}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestMatchesCategory(t *testing.T) {
	require.True(t, MatchesCategory("user.contact.email", "user.contact"))
	require.True(t, MatchesCategory("user.contact", "user.contact"))
	require.False(t, MatchesCategory("user.contactless", "user.contact"))
	require.False(t, MatchesCategory("user", "user.contact"))

	r := Rule{TargetCategories: []string{"system", "user.financial"}}
	require.True(t, r.Targets("user.financial.bank_account"))
	require.False(t, r.Targets("user.contact.email"))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(erasurePolicy), 0o600))

	p, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, p.Rules, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
