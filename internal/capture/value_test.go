package capture

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValue_UnmarshalKinds(t *testing.T) {
	tests := []struct {
		raw     string
		kind    Kind
		length  int
		wantErr bool
	}{
		{`3`, KindNumber, 1, false},
		{`"x"`, KindString, 1, false},
		{`[1.5, 2]`, KindNumberArray, 2, false},
		{`["a"]`, KindStringArray, 1, false},
		{`[]`, KindNone, 0, false},
		{`null`, KindNone, 0, false},
		{`true`, "", 0, true},
		{`{"a": 1}`, "", 0, true},
		{`[[1]]`, "", 0, true},
		{`["a", 1]`, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var v Value
			err := json.Unmarshal([]byte(tt.raw), &v)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.kind, v.Kind)
			require.Equal(t, tt.length, v.Len())
		})
	}
}

func TestValue_Equal(t *testing.T) {
	require.True(t, NumberValue(1).Equal(NumberValue(1)))
	require.False(t, NumberValue(1).Equal(StringValue("1")))
	require.True(t, NumberArrayValue([]float64{1, 2}).Equal(NumberArrayValue([]float64{1, 2})))
	require.False(t, StringArrayValue([]string{"a"}).Equal(StringArrayValue([]string{"b"})))
	require.True(t, Value{Kind: KindNone}.Equal(NumberArrayValue(nil)))
}

func TestValue_String(t *testing.T) {
	require.Equal(t, `1.25`, NumberValue(1.25).String())
	require.Equal(t, `"a\"b"`, StringValue(`a"b`).String())
	require.Equal(t, `["x","y"]`, StringArrayValue([]string{"x", "y"}).String())
	require.Equal(t, `null`, Value{}.String())
}
