package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluationMessageRoundTrip(t *testing.T) {
	body, err := encodeEvaluationMessage("ev-123")
	require.NoError(t, err)
	assert.JSONEq(t, `{"evaluation_id":"ev-123"}`, string(body))

	id, err := decodeEvaluationMessage(body)
	require.NoError(t, err)
	assert.Equal(t, "ev-123", id)
}

func TestDecodeEvaluationMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "not json", body: "ev-123", want: "invalid job format"},
		{name: "missing id", body: `{"job_id":"ev-123"}`, want: "missing evaluation_id"},
		{name: "empty id", body: `{"evaluation_id":""}`, want: "missing evaluation_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeEvaluationMessage([]byte(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
