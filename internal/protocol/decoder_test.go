package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func decodeOne(t *testing.T, s string) Message {
	t.Helper()
	bodies, rest := Split(s)
	require.Len(t, bodies, 1)
	assert.Empty(t, strings.TrimSpace(rest))
	msg, err := Decode(bodies[0])
	require.NoError(t, err)
	return msg
}

func TestDecodeHardwareList(t *testing.T) {
	msg := decodeOne(t, "HW -> 1 2 3 END")

	assert.Equal(t, KindHardware, msg.Kind)
	assert.True(t, msg.Result)
	assert.Empty(t, msg.Argument)
	assert.Equal(t, []uint8{1, 2, 3}, msg.Boards)
}

func TestDecodeEmptyConnectivity(t *testing.T) {
	msg := decodeOne(t, "CONNECT 5:2 -> END")

	assert.Equal(t, KindConnectivity, msg.Kind)
	assert.True(t, msg.Result)
	require.NotNil(t, msg.Pin)
	assert.Equal(t, PinRef{Board: 5, Index: 2}, *msg.Pin)
	assert.Empty(t, msg.Entries)
}

func TestDecodeAcknowledgeForm(t *testing.T) {
	msg := decodeOne(t, "VOL 1 END")

	assert.Equal(t, KindVoltageLevel, msg.Kind)
	assert.False(t, msg.Result)
	assert.Equal(t, "1", msg.Argument)
	assert.Equal(t, VoltageHigh, msg.Level)
}

func TestDecodeVoltageLevelResult(t *testing.T) {
	msg := decodeOne(t, "VOL 1 -> 0 END")

	assert.True(t, msg.Result)
	assert.Equal(t, VoltageLow, msg.Level)
}

func TestDecodeResistances(t *testing.T) {
	msg := decodeOne(t, "RESISTANCES 1:0 -> 1:0(0.5) 2:31(-12.25) 3:4 END")

	require.Len(t, msg.Entries, 3)
	assert.Equal(t, Entry{Pin: PinRef{1, 0}, Value: 0.5, HasValue: true}, msg.Entries[0])
	assert.Equal(t, Entry{Pin: PinRef{2, 31}, Value: -12.25, HasValue: true}, msg.Entries[1])
	assert.Equal(t, Entry{Pin: PinRef{3, 4}}, msg.Entries[2])
}

func TestDecodeVoltagesNotReadAsVoltageLevel(t *testing.T) {
	msg := decodeOne(t, "VOLTAGES 1:1 -> 1:2(0.69) END")

	assert.Equal(t, KindVoltages, msg.Kind)
	require.Len(t, msg.Entries, 1)
	assert.InDelta(t, 0.69, msg.Entries[0].Value, 1e-9)
}

func TestDecodeConnectivityIgnoresValues(t *testing.T) {
	msg := decodeOne(t, "CONNECT 1:1 -> 1:2(abc) END")

	require.Len(t, msg.Entries, 1)
	assert.False(t, msg.Entries[0].HasValue)
}

func TestDecodeHeaderNotAtStart(t *testing.T) {
	msg := decodeOne(t, "\x00\x00garbage HW -> 7 END")

	assert.Equal(t, KindHardware, msg.Kind)
	assert.Equal(t, []uint8{7}, msg.Boards)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no header", "hello world"},
		{"missing arrow", "CONNECT 1:1 1:2"},
		{"three fields", "CONNECT 1:1:1 -> "},
		{"one field", "CONNECT 1 -> "},
		{"bad index", "CONNECT 1:x -> "},
		{"index out of range", "CONNECT 1:32 -> "},
		{"board out of range", "HW -> 1 128"},
		{"board zero", "HW -> 0"},
		{"board not integer", "HW -> 1 two"},
		{"bad resistance", "RESISTANCES 1:1 -> 1:2(x)"},
		{"unclosed value", "RESISTANCES 1:1 -> 1:2(1.0"},
		{"empty resistance", "RESISTANCES 5:1 -> 5:2()"},
		{"empty voltage", "VOLTAGES 5:1 -> 5:2()"},
		{"bad level", "VOL 3"},
		{"level result arity", "VOL 1 -> 1 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.body)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestSplitConcatenated(t *testing.T) {
	bodies, rest := Split("HW -> 1 END CONNECT 1:1 -> 1:2 END CONNECT 1:")

	require.Len(t, bodies, 2)
	assert.Equal(t, " CONNECT 1:", rest)

	first, err := Decode(bodies[0])
	require.NoError(t, err)
	assert.Equal(t, KindHardware, first.Kind)

	second, err := Decode(bodies[1])
	require.NoError(t, err)
	assert.Equal(t, KindConnectivity, second.Kind)
}

func TestDecoderFeed(t *testing.T) {
	d := NewDecoder(zaptest.NewLogger(t))

	msgs := d.Feed([]byte("HW -> 1 2 END CONNECT 1:1 -> 1:"))
	require.Len(t, msgs, 1)
	assert.Equal(t, []uint8{1, 2}, msgs[0].Boards)
	assert.Equal(t, " CONNECT 1:1 -> 1:", d.Pending())

	msgs = d.Feed([]byte("3 END"))
	require.Len(t, msgs, 1)
	assert.Equal(t, PinRef{1, 3}, msgs[0].Entries[0].Pin)
	assert.Empty(t, d.Pending())
}

func TestDecoderSkipsGarbage(t *testing.T) {
	d := NewDecoder(zaptest.NewLogger(t))

	msgs := d.Feed([]byte("nonsense END HW -> 300 END VOL 0 END"))
	require.Len(t, msgs, 1)
	assert.Equal(t, KindVoltageLevel, msgs[0].Kind)
}

func TestCommandEncode(t *testing.T) {
	pin := PinRef{Board: 3, Index: 7}

	check, err := CheckPins(KindResistances, &pin, true)
	require.NoError(t, err)

	tests := []struct {
		cmd  Command
		want string
	}{
		{SetVoltageLevel(VoltageHigh), "VOL 1\n"},
		{GetBoardsOnline(), "HW\n"},
		{CheckHardware(), "HW CHECK\n"},
		{check, "RESISTANCES 3:7 SEQ\n"},
	}
	for _, tt := range tests {
		line, err := tt.cmd.Encode()
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(line))
	}

	_, err = SetVoltageLevel(VoltageLevel(4)).Encode()
	assert.Error(t, err)

	_, err = CheckPins(KindHardware, nil, false)
	assert.Error(t, err)
}

func TestPinRefBinary(t *testing.T) {
	data, err := PinRef{Board: 127, Index: 31}.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, data, 2)

	var ref PinRef
	require.NoError(t, ref.UnmarshalBinary(data))
	assert.Equal(t, PinRef{Board: 127, Index: 31}, ref)

	assert.Error(t, ref.UnmarshalBinary([]byte{0, 1}))
}
