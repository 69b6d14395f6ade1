package canonical

import (
	"math/rand"
	"testing"

	"signing-relay/pkg/apperror"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderParams() Params {
	return Params{
		{Key: "symbol", Value: "BTCUSDT"},
		{Key: "side", Value: "BUY"},
		{Key: "type", Value: "LIMIT_MAKER"},
		{Key: "quantity", Value: "0.001"},
		{Key: "price", Value: "50000"},
		{Key: "timestamp", Value: "1690000000000"},
	}
}

func TestCanonicalize_OrderExample(t *testing.T) {
	got, err := Canonicalize(orderParams())
	require.NoError(t, err)

	assert.Equal(t, "price=50000&quantity=0.001&side=BUY&symbol=BTCUSDT&timestamp=1690000000000&type=LIMIT_MAKER", got)
}

func TestCanonicalize_IndependentOfInsertionOrder(t *testing.T) {
	want, err := Canonicalize(orderParams())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		p := orderParams()
		rng.Shuffle(len(p), func(a, b int) { p[a], p[b] = p[b], p[a] })

		got, err := Canonicalize(p)
		require.NoError(t, err)
		assert.Equal(t, want, got, "permutation %d", i)
	}
}

func TestCanonicalize_FromMapIsDeterministic(t *testing.T) {
	m := map[string]interface{}{
		"symbol": "BTCUSDT", "side": "SELL", "quantity": "1", "timestamp": int64(1690000000000),
	}

	first, err := Canonicalize(FromMap(m))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Canonicalize(FromMap(m))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "quantity=1&side=SELL&symbol=BTCUSDT&timestamp=1690000000000", first)
}

func TestCanonicalize_SignatureAlwaysLast(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{
			name:   "signature sorts before other keys lexically",
			params: Params{{"timestamp", "1"}, {"signature", "abc"}, {"symbol", "X"}},
			want:   "symbol=X&timestamp=1&signature=abc",
		},
		{
			name:   "signature inserted first",
			params: Params{{"signature", "abc"}, {"a", "1"}, {"z", "2"}},
			want:   "a=1&z=2&signature=abc",
		},
		{
			name:   "no signature",
			params: Params{{"z", "2"}, {"a", "1"}},
			want:   "a=1&z=2",
		},
		{
			name:   "signature alone",
			params: Params{{"signature", "abc"}},
			want:   "signature=abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalize_DropsAbsentValues(t *testing.T) {
	var missing *string
	p := Params{
		{"symbol", "BTCUSDT"},
		{"timeInForce", nil},
		{"newClientOrderId", missing},
		{"price", "1"},
	}

	got, err := Canonicalize(p)
	require.NoError(t, err)
	assert.Equal(t, "price=1&symbol=BTCUSDT", got)
}

func TestCanonicalize_DropsTypedNilPointers(t *testing.T) {
	var (
		price *decimal.Decimal
		limit *int
	)
	qty := decimal.RequireFromString("0.00100000")
	p := Params{
		{"price", price},
		{"limit", limit},
		{"quantity", &qty},
		{"symbol", "BTCUSDT"},
	}

	got, err := Canonicalize(p)
	require.NoError(t, err)
	assert.Equal(t, "quantity=0.001&symbol=BTCUSDT", got)
}

func TestCanonicalize_NonNilPointerWithoutRendering(t *testing.T) {
	n := 5
	_, err := Canonicalize(Params{{"limit", &n}})
	assert.True(t, apperror.HasCode(err, apperror.CodeUnsupportedValue))
}

func TestCanonicalize_DuplicateKeyIsError(t *testing.T) {
	p := Params{{"symbol", "BTCUSDT"}, {"symbol", "ETHUSDT"}}

	_, err := Canonicalize(p)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicateParameter))
}

func TestCanonicalize_DuplicateAbsentKeyIsStillError(t *testing.T) {
	p := Params{{"price", nil}, {"price", "1"}}

	_, err := Canonicalize(p)
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicateParameter))
}

func TestCanonicalize_ByteWiseKeyOrder(t *testing.T) {
	// Uppercase sorts before lowercase in byte order.
	p := Params{{"recvWindow", "5000"}, {"quantity", "1"}, {"Zeta", "z"}, {"quoteOrderQty", "2"}}

	got, err := Canonicalize(p)
	require.NoError(t, err)
	assert.Equal(t, "Zeta=z&quantity=1&quoteOrderQty=2&recvWindow=5000", got)
}

func TestCanonicalize_ValueRendering(t *testing.T) {
	price := "42000.5"
	p := Params{
		{"a_int", 7},
		{"b_int64", int64(1690000000000)},
		{"c_float", 0.001},
		{"d_bool", true},
		{"e_decimal", decimal.RequireFromString("0.00100000")},
		{"f_ptr", &price},
		{"g_uint", uint64(18)},
	}

	got, err := Canonicalize(p)
	require.NoError(t, err)
	assert.Equal(t, "a_int=7&b_int64=1690000000000&c_float=0.001&d_bool=true&e_decimal=0.001&f_ptr=42000.5&g_uint=18", got)
}

func TestCanonicalize_ValuesAreNotEscaped(t *testing.T) {
	p := Params{{"note", "a b&c=d"}}

	got, err := Canonicalize(p)
	require.NoError(t, err)
	assert.Equal(t, "note=a b&c=d", got)
}

func TestCanonicalize_UnsupportedValue(t *testing.T) {
	_, err := Canonicalize(Params{{"levels", []int{1, 2}}})
	assert.True(t, apperror.HasCode(err, apperror.CodeUnsupportedValue))
}

func TestCanonicalize_Empty(t *testing.T) {
	got, err := Canonicalize(nil)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestParams_WithDoesNotAlias(t *testing.T) {
	base := make(Params, 0, 4)
	base = append(base, Param{"symbol", "BTCUSDT"})

	a := base.With("side", "BUY")
	b := base.With("side", "SELL")

	v, _ := a.Get("side")
	assert.Equal(t, "BUY", v)
	v, _ = b.Get("side")
	assert.Equal(t, "SELL", v)
	assert.False(t, base.Has("side"))
}

func TestParams_HasAndGet(t *testing.T) {
	p := Params{{"symbol", "BTCUSDT"}, {"price", nil}}

	assert.True(t, p.Has("symbol"))
	assert.True(t, p.Has("price"), "absent-marked keys are still present")
	assert.False(t, p.Has("signature"))

	_, ok := p.Get("missing")
	assert.False(t, ok)
}
