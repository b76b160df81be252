package cmd

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
)

func TestParseTransport(t *testing.T) {
	t.Parallel()

	for value, want := range map[string]bluetooth.Transport{
		"":        "",
		"classic": bluetooth.TransportClassic,
		"ble":     bluetooth.TransportBLE,
	} {
		got, err := parseTransport(value)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseTransportRejectsUnknownValue(t *testing.T) {
	t.Parallel()

	_, err := parseTransport("bluetooth")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bluetooth"`)
}

func TestScanRejectsUnknownTransport(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"scan", "--transport", "rfcomm"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}
