package monitor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamPayload_RoundTrip(t *testing.T) {
	p := streamPayload{Topic: "hashtx", Hash: "abc123"}
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var out streamPayload
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, p, out)
}
