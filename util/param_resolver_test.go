package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveParams(t *testing.T) {
	data := map[string]any{
		"input": map[string]any{
			"orderId": "ord-42",
			"amount":  120.5,
		},
		"reserve": map[string]any{
			"output": map[string]any{
				"reservationId": "rsv-7",
			},
		},
	}

	params := map[string]any{
		"order":       "{$.input.orderId}",
		"amount":      "{$.input.amount}",
		"reservation": "{$.reserve.output.reservationId}",
		"note":        "charging order {$.input.orderId} now",
		"static":      "unchanged",
		"count":       3,
		"nested": map[string]any{
			"ref": "{$.reserve.output.reservationId}",
		},
		"list": []any{"{$.input.orderId}", "literal"},
	}

	resolved := ResolveParams(data, params)
	require.Equal(t, "ord-42", resolved["order"])
	require.Equal(t, 120.5, resolved["amount"])
	require.Equal(t, "rsv-7", resolved["reservation"])
	require.Equal(t, "charging order ord-42 now", resolved["note"])
	require.Equal(t, "unchanged", resolved["static"])
	require.Equal(t, 3, resolved["count"])
	require.Equal(t, "rsv-7", resolved["nested"].(map[string]any)["ref"])
	require.Equal(t, []any{"ord-42", "literal"}, resolved["list"])
}

func TestResolveParamsMissingPath(t *testing.T) {
	resolved := ResolveParams(map[string]any{}, map[string]any{
		"missing": "{$.no.such.path}",
	})
	require.Nil(t, resolved["missing"])
}
