package mqtt_test

import (
	"testing"

	"github.com/absmach/fedround/pkg/messages"
	"github.com/absmach/fedround/pkg/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	cases := []struct {
		desc  string
		codec string
		err   error
	}{
		{desc: "default codec", codec: ""},
		{desc: "json codec", codec: "json"},
		{desc: "cbor codec", codec: "cbor"},
		{desc: "unknown codec", codec: "xml", err: mqtt.ErrUnknownCodec},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			codec, err := mqtt.NewCodec(tc.codec)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)

			data, err := codec.Marshal(messages.AggregatorNotification{RequestID: "us/1/2/0_b", Status: messages.StatusFailed})
			require.NoError(t, err)

			var decoded map[string]any
			require.NoError(t, codec.Unmarshal(data, &decoded))

			n, err := messages.FromMap(decoded)
			require.NoError(t, err)
			assert.Equal(t, "us/1/2/0_b", n.RequestID)
			assert.Equal(t, messages.StatusFailed, n.Status)
		})
	}
}
