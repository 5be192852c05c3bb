package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeValueOmitsAbsentKeys(t *testing.T) {
	cases := []struct {
		name string
		in   *Message
		want string
	}{
		{"null", nil, "null"},
		{"empty", &Message{}, "{}"},
		{"mode", ptr(ModeMessage("scala")), `{"mode":"scala"}`},
		{"kill", ptr(KillMessage()), `{"kill":true}`},
		{"both", ptr(ModeMessage("go").Merge(KillMessage())), `{"mode":"go","kill":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeValue(tc.in)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestDecodeValue(t *testing.T) {
	m, err := DecodeValue([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = DecodeValue([]byte(`{"kill":false,"mode":"python"}`))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.False(t, m.IsKill())
	assert.True(t, m.HasMode())
	assert.Equal(t, "python", *m.Mode)

	_, err = DecodeValue([]byte(`{"mode":`))
	require.Error(t, err)
}

func TestMergeDoesNotAlias(t *testing.T) {
	base := ModeMessage("scala")
	merged := base.Merge(KillMessage())
	*merged.Mode = "changed"
	assert.Equal(t, "scala", *base.Mode)
	assert.Nil(t, base.Kill)
	assert.Equal(t, `{mode:"changed" kill:true}`, merged.String())
}

func ptr(m Message) *Message { return &m }

func TestOrNil(t *testing.T) {
	assert.Nil(t, orNil(nil))
	assert.Nil(t, orNil(&Message{}))
	m := ModeMessage("go")
	assert.Same(t, &m, orNil(&m))
}
