package main

import (
	"bytes"
	"testing"

	"github.com/nexuspro/flows/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notifyYAML = `
name: Notify on reply
entry_node_id: trigger
nodes:
  trigger:
    id: trigger
    kind: trigger
    trigger:
      type: inbound_message
  notify:
    id: notify
    kind: action
    action:
      type: send_message
      params:
        body: "Got {{text}}"
edges:
  - id: e1
    source_node_id: trigger
    target_node_id: notify
`

const cyclicYAML = `
name: Loop
entry_node_id: trigger
nodes:
  trigger:
    id: trigger
    kind: trigger
    trigger:
      type: inbound_message
  a:
    id: a
    kind: action
    action:
      type: send_message
      params:
        body: a
  b:
    id: b
    kind: action
    action:
      type: send_message
      params:
        body: b
edges:
  - id: e1
    source_node_id: trigger
    target_node_id: a
  - id: e2
    source_node_id: a
    target_node_id: b
  - id: e3
    source_node_id: b
    target_node_id: a
`

func TestParsePayload(t *testing.T) {
	payload, err := parsePayload([]string{"email=ana@example.com", "name=Ana", "note=a=b", "name=Ana Maria"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"email": "ana@example.com",
		"name":  "Ana Maria",
		"note":  "a=b",
	}, payload)

	empty, err := parsePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = parsePayload([]string{"missing-separator"})
	require.ErrorIs(t, err, errInvalidPayload)

	_, err = parsePayload([]string{"=value"})
	require.ErrorIs(t, err, errInvalidPayload)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, services.FormatYAML, formatFromPath("graphs/welcome.yaml"))
	assert.Equal(t, services.FormatYAML, formatFromPath("welcome.YML"))
	assert.Equal(t, services.FormatJSON, formatFromPath("welcome.json"))
	assert.Empty(t, formatFromPath("welcome"))
}

func TestValidateDocument(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		var out bytes.Buffer

		valid, err := validateDocument(&out, []byte(notifyYAML), services.FormatYAML)
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Contains(t, out.String(), "trigger -> notify")
	})

	t.Run("cycle", func(t *testing.T) {
		var out bytes.Buffer

		valid, err := validateDocument(&out, []byte(cyclicYAML), "")
		require.NoError(t, err)
		assert.False(t, valid)
		assert.Contains(t, out.String(), "violation")
	})

	t.Run("schema mismatch", func(t *testing.T) {
		var out bytes.Buffer

		valid, err := validateDocument(&out, []byte(`{"name": "no nodes"}`), services.FormatJSON)
		require.NoError(t, err)
		assert.False(t, valid)
		assert.Contains(t, out.String(), "violation")
	})

	t.Run("unsupported format", func(t *testing.T) {
		var out bytes.Buffer

		_, err := validateDocument(&out, []byte(notifyYAML), "toml")
		require.ErrorIs(t, err, services.ErrUnsupportedFormat)
	})
}
