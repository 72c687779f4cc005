package lorawan

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFrequencyPlan(t *testing.T) {
	for _, name := range []string{"EU868", "eu868", "AS923-1", "as923_1", "CN470", "US915"} {
		plan, err := GetFrequencyPlan(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, plan.UplinkChannels, name)
		assert.Contains(t, plan.UplinkChannels, plan.DefaultUplinkChannel, name)
	}

	_, err := GetFrequencyPlan("XX123")
	assert.ErrorIs(t, err, ErrUnknownFrequencyPlan)
	assert.Contains(t, err.Error(), "EU868")
}

func TestAvailableFrequencyPlans(t *testing.T) {
	assert.Equal(t, []string{
		"AS923-1", "AS923-2", "AS923-3", "AS923-4",
		"CN470", "EU868", "IN865", "KR920", "RU864", "US915",
	}, AvailableFrequencyPlans())
}

func TestRandomUplinkChannel(t *testing.T) {
	plan, err := GetFrequencyPlan("EU868")
	require.NoError(t, err)

	r := rand.New(rand.NewSource(1))
	seen := make(map[uint32]bool)
	for i := 0; i < 500; i++ {
		f := plan.RandomUplinkChannel(r)
		assert.Contains(t, plan.UplinkChannels, f)
		seen[f] = true
	}
	assert.Len(t, seen, len(plan.UplinkChannels))
}

func TestRX1Frequency(t *testing.T) {
	eu, _ := GetFrequencyPlan("EU868")
	assert.EqualValues(t, 868300000, eu.RX1Frequency(868300000))

	us, _ := GetFrequencyPlan("US915")
	assert.EqualValues(t, 923300000, us.RX1Frequency(902300000))
	assert.EqualValues(t, 923900000, us.RX1Frequency(902500000))
	assert.EqualValues(t, 923300000, us.RX1Frequency(903900000))

	cn, _ := GetFrequencyPlan("CN470")
	assert.Len(t, cn.UplinkChannels, 96)
	assert.EqualValues(t, 500300000, cn.RX1Frequency(470300000))
	assert.EqualValues(t, 500300000, cn.RX1Frequency(CN470GetUplinkFrequency(48)))

	assert.InDelta(t, 869.525, MHz(eu.RX2Frequency), 1e-9)
}
