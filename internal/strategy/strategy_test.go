package strategy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exchange "session-core/pkg/exchanges/common"
)

func bars(closes ...float64) []exchange.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]exchange.Bar, len(closes))
	for i, c := range closes {
		out[i] = exchange.Bar{Time: start.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func run(t *testing.T, s Strategy, bs []exchange.Bar) *Context {
	t.Helper()
	ctx := NewContext(nil)
	s.OnStart(ctx)
	for _, b := range bs {
		s.OnBar(b, ctx)
	}
	s.OnStop(ctx)
	return ctx
}

func TestValidate(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name    string
		key     string
		raw     map[string]any
		wantErr bool
		check   func(t *testing.T, p Params)
	}{
		{
			name: "defaults filled",
			key:  "donchian_breakout",
			check: func(t *testing.T, p Params) {
				assert.Equal(t, 20, p.Int("window"))
			},
		},
		{
			name: "float coerced to int",
			key:  "donchian_breakout",
			raw:  map[string]any{"window": 5.0},
			check: func(t *testing.T, p Params) {
				assert.Equal(t, 5, p["window"])
			},
		},
		{name: "below minimum", key: "donchian_breakout", raw: map[string]any{"window": 1}, wantErr: true},
		{name: "fractional int", key: "donchian_breakout", raw: map[string]any{"window": 2.5}, wantErr: true},
		{name: "unknown key", key: "donchian_breakout", raw: map[string]any{"windw": 3}, wantErr: true},
		{name: "unknown strategy", key: "nope", wantErr: true},
		{name: "not a number", key: "rsi", raw: map[string]any{"period": "abc"}, wantErr: true},
		{
			name: "bool from string",
			key:  "ma_cross",
			raw:  map[string]any{"allow_short": "true"},
			check: func(t *testing.T, p Params) {
				assert.True(t, p.Bool("allow_short"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := reg.Validate(tt.key, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidParams)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestBuildRejectsInconsistentParams(t *testing.T) {
	reg := DefaultRegistry()
	_, _, err := reg.Build("ma_cross", map[string]any{"fast": 30, "slow": 10})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestRegistryDuplicateKey(t *testing.T) {
	reg := DefaultRegistry()
	err := reg.Register(Builtins()[0])
	assert.Error(t, err)

	list := reg.List()
	require.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Key, list[i].Key)
	}
}

func TestDonchianBreakout(t *testing.T) {
	s, _, err := DefaultRegistry().Build("donchian_breakout", map[string]any{"window": 3})
	require.NoError(t, err)

	ctx := run(t, s, bars(1, 2, 3))
	assert.Equal(t, 1.0, ctx.Position)

	ctx = run(t, s, bars(1))
	assert.Equal(t, 0.0, ctx.Position)
}

func TestMeanReversion(t *testing.T) {
	s, _, err := DefaultRegistry().Build("mean_reversion", map[string]any{"w_fast": 1, "w_slow": 3})
	require.NoError(t, err)

	ctx := NewContext(nil)
	s.OnStart(ctx)
	assert.Equal(t, false, ctx.Meta["ready"])
	for _, b := range bars(10, 10, 7) {
		s.OnBar(b, ctx)
	}
	assert.Equal(t, true, ctx.Meta["ready"])
	assert.Equal(t, 1.0, ctx.Position)
}

func TestMACrossShort(t *testing.T) {
	s, _, err := DefaultRegistry().Build("ma_cross", map[string]any{"fast": 1, "slow": 3, "allow_short": true})
	require.NoError(t, err)
	ctx := run(t, s, bars(10, 9, 8))
	assert.Equal(t, -1.0, ctx.Position)
}

func TestRSIReversal(t *testing.T) {
	s, _, err := DefaultRegistry().Build("rsi", map[string]any{"period": 3})
	require.NoError(t, err)
	ctx := run(t, s, bars(10, 9, 8, 7))
	assert.Equal(t, 1.0, ctx.Position)
	assert.Equal(t, 0.0, ctx.Meta["rsi"])
}

func TestBollinger(t *testing.T) {
	s, _, err := DefaultRegistry().Build("bollinger", map[string]any{"period": 4, "std_dev": 1})
	require.NoError(t, err)
	ctx := run(t, s, bars(10, 10, 10, 6))
	assert.Equal(t, 1.0, ctx.Position)
}

func TestGrid(t *testing.T) {
	t.Run("fixed bounds", func(t *testing.T) {
		s, _, err := DefaultRegistry().Build("grid", map[string]any{"lower": 1.0, "upper": 2.0, "step": 0.1})
		require.NoError(t, err)
		ctx := NewContext(nil)
		s.OnBar(bars(0.9)[0], ctx)
		assert.Equal(t, 1.0, ctx.Position)
		s.OnBar(bars(2.1)[0], ctx)
		assert.Equal(t, 0.0, ctx.Position)
	})

	t.Run("channel short", func(t *testing.T) {
		s, _, err := DefaultRegistry().Build("grid", map[string]any{"lookback": 3, "allow_short": true})
		require.NoError(t, err)
		ctx := run(t, s, bars(5, 6, 7, 8))
		assert.Equal(t, -1.0, ctx.Position)
		assert.Equal(t, 7.0, ctx.Meta["upper"])
	})

	t.Run("no re-entry while hovering", func(t *testing.T) {
		s, _, err := DefaultRegistry().Build("grid", map[string]any{"lower": 1.0, "upper": 2.0, "step": 0.5})
		require.NoError(t, err)
		ctx := NewContext(nil)
		s.OnBar(bars(1.0)[0], ctx)
		ctx.Position = 0
		s.OnBar(bars(0.95)[0], ctx)
		assert.Equal(t, 0.0, ctx.Position)
	})

	for _, raw := range []map[string]any{{"lower": 1.0}, {"lower": 2.0, "upper": 1.0}} {
		_, _, err := DefaultRegistry().Build("grid", raw)
		assert.ErrorIs(t, err, ErrInvalidParams)
	}
}

func TestVolumeProfile(t *testing.T) {
	s, _, err := DefaultRegistry().Build("volume_profile", map[string]any{"period": 2, "multiplier": 2, "allow_short": true})
	require.NoError(t, err)

	bs := bars(10, 10, 10, 11, 10)
	for i := range bs {
		bs[i].Volume = 100
	}
	bs[3].Volume = 300
	bs[4].Volume = 50

	ctx := NewContext(nil)
	for _, b := range bs[:4] {
		s.OnBar(b, ctx)
	}
	assert.Equal(t, 1.0, ctx.Position)

	// a quiet down bar holds the position
	s.OnBar(bs[4], ctx)
	assert.Equal(t, 1.0, ctx.Position)

	s.OnBar(exchange.Bar{Time: bs[4].Time.Add(time.Minute), Close: 9, Volume: 1000}, ctx)
	assert.Equal(t, -1.0, ctx.Position)
}

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
presets:
  - name: fast_channel
    strategy: donchian_breakout
    params:
      window: 5
  - name: slow_mr
    strategy: mean_reversion
`), 0o644))

	presets, err := LoadPresets(path, DefaultRegistry())
	require.NoError(t, err)
	require.Len(t, presets, 2)

	key, params, ok := Resolve(presets, "fast_channel", map[string]any{"window": 7})
	require.True(t, ok)
	assert.Equal(t, "donchian_breakout", key)
	assert.Equal(t, 7, params["window"])

	_, _, ok = Resolve(presets, "missing", nil)
	assert.False(t, ok)
}

func TestLoadPresetsRejectsBadParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
presets:
  - name: broken
    strategy: donchian_breakout
    params:
      window: 1
`), 0o644))
	_, err := LoadPresets(path, DefaultRegistry())
	assert.ErrorIs(t, err, ErrInvalidParams)
}
