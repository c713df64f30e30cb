package dex_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/dex"
	"github.com/michaelpento.lv/mevsearcher/dex/uniswap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookups(t *testing.T) {
	reg, err := dex.NewRegistry(uniswap.DefaultVenues(), uniswap.NewV2())
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())

	v, ok := reg.ByRouter(uniswap.SushiSwapRouter)
	require.True(t, ok)
	assert.Equal(t, "sushiswap", v.Name)

	_, ok = reg.Venue("curve")
	assert.False(t, ok)

	names := make([]string, 0)
	for _, v := range reg.Venues() {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{"sushiswap", "uniswap_v2", "uniswap_v3"}, names)

	tradable := reg.Tradable()
	require.Len(t, tradable, 2)
	assert.Equal(t, "sushiswap", tradable[0].Name)
}

func TestRegistryKnownRouterWithoutAdapter(t *testing.T) {
	reg, err := dex.NewRegistry(uniswap.DefaultVenues(), uniswap.NewV2())
	require.NoError(t, err)

	v3, ok := reg.ByRouter(uniswap.UniswapV3Router)
	require.True(t, ok)
	_, err = reg.Adapter(v3)
	assert.ErrorIs(t, err, dex.ErrNoAdapter)

	v2, _ := reg.Venue("uniswap_v2")
	a, err := reg.Adapter(v2)
	require.NoError(t, err)
	assert.Equal(t, uniswap.Protocol, a.Protocol())
}

func TestRegistryRejectsBadVenues(t *testing.T) {
	router := common.HexToAddress("0x01")
	cases := map[string][]dex.Venue{
		"unnamed":        {{Router: router}},
		"duplicate name": {{Name: "a", Router: router}, {Name: "a", Router: common.HexToAddress("0x02")}},
		"shared router":  {{Name: "a", Router: router}, {Name: "b", Router: router}},
		"fee too high":   {{Name: "a", Router: router, FeeBps: 10000}},
	}
	for name, venues := range cases {
		_, err := dex.NewRegistry(venues)
		assert.Error(t, err, name)
	}
}
