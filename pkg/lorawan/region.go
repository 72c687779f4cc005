package lorawan

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

var ErrUnknownFrequencyPlan = errors.New("unknown frequency plan")

// FrequencyPlan describes the channels a device may use in a region.
// Frequencies are in Hz.
type FrequencyPlan struct {
	Name                 string
	Description          string
	UplinkChannels       []uint32
	DownlinkChannels     []uint32
	RX1Offset            int
	RX2Frequency         uint32
	DefaultUplinkChannel uint32
	DefaultDataRate      string
	MaxPower             int

	rx1Frequency func(uplink uint32) uint32
}

// RandomUplinkChannel picks one of the uplink channels uniformly at random
func (p *FrequencyPlan) RandomUplinkChannel(r *rand.Rand) uint32 {
	if len(p.UplinkChannels) == 0 {
		return p.DefaultUplinkChannel
	}
	if r == nil {
		return p.UplinkChannels[rand.Intn(len(p.UplinkChannels))]
	}
	return p.UplinkChannels[r.Intn(len(p.UplinkChannels))]
}

// RX1Frequency returns the RX1 downlink frequency for an uplink frequency.
// Most plans answer on the uplink channel itself.
func (p *FrequencyPlan) RX1Frequency(uplink uint32) uint32 {
	if p.rx1Frequency != nil {
		return p.rx1Frequency(uplink)
	}
	return uplink
}

// MHz converts a frequency in Hz to MHz, as used by the packet forwarder JSON
func MHz(hz uint32) float64 {
	return float64(hz) / 1e6
}

func channelRange(start, step uint32, n int) []uint32 {
	out := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, start+uint32(i)*step)
	}
	return out
}

func as923(group int, first uint32) *FrequencyPlan {
	channels := channelRange(first, 200000, 8)
	return &FrequencyPlan{
		Name:                 fmt.Sprintf("AS923-%d", group),
		Description:          fmt.Sprintf("Asian 923 MHz ISM Band (Group %d)", group),
		UplinkChannels:       channels,
		DownlinkChannels:     channels,
		RX2Frequency:         first,
		DefaultUplinkChannel: first,
		DefaultDataRate:      "SF7BW125",
		MaxPower:             16,
	}
}

var frequencyPlans = map[string]*FrequencyPlan{
	"EU868": {
		Name:        "EU868",
		Description: "European 863-870 MHz ISM Band",
		UplinkChannels: []uint32{
			868100000, 868300000, 868500000, 867100000,
			867300000, 867500000, 867700000, 867900000,
		},
		DownlinkChannels: []uint32{
			868100000, 868300000, 868500000, 867100000,
			867300000, 867500000, 867700000, 867900000,
		},
		RX2Frequency:         869525000,
		DefaultUplinkChannel: 868100000,
		DefaultDataRate:      "SF7BW125",
		MaxPower:             14,
	},
	"RU864": {
		Name:                 "RU864",
		Description:          "Russian 864-870 MHz ISM Band",
		UplinkChannels:       []uint32{868900000, 869100000, 864100000, 864300000},
		DownlinkChannels:     []uint32{868900000, 869100000, 864100000, 864300000},
		RX1Offset:            5,
		RX2Frequency:         869100000,
		DefaultUplinkChannel: 868900000,
		DefaultDataRate:      "SF7BW125",
		MaxPower:             20,
	},
	"US915": {
		Name:                 "US915",
		Description:          "North American 902-928 MHz ISM Band",
		UplinkChannels:       channelRange(902300000, 200000, 64),
		DownlinkChannels:     channelRange(923300000, 600000, 8),
		RX2Frequency:         923300000,
		DefaultUplinkChannel: 902300000,
		DefaultDataRate:      "SF10BW125",
		MaxPower:             30,
		rx1Frequency: func(uplink uint32) uint32 {
			if uplink < 902300000 {
				return 923300000
			}
			return 923300000 + ((uplink-902300000)/200000%8)*600000
		},
	},
	"AS923_1": as923(1, 923200000),
	"AS923_2": as923(2, 921400000),
	"AS923_3": as923(3, 916600000),
	"AS923_4": as923(4, 917500000),
	"CN470": {
		Name:                 "CN470",
		Description:          "Chinese 470-510 MHz Band",
		UplinkChannels:       cn470Channels(cn470UplinkChannels, CN470GetUplinkFrequency),
		DownlinkChannels:     cn470Channels(8, CN470GetDownlinkFrequency),
		RX2Frequency:         500300000,
		DefaultUplinkChannel: 470300000,
		DefaultDataRate:      "SF7BW125",
		MaxPower:             14,
		rx1Frequency: func(uplink uint32) uint32 {
			if uplink < 470300000 {
				return CN470GetDownlinkFrequency(0)
			}
			ch := int((uplink - 470300000) / 200000)
			return CN470GetDownlinkFrequency(CN470GetDownlinkChannelForUplink(ch))
		},
	},
	"IN865": {
		Name:                 "IN865",
		Description:          "Indian 865-867 MHz ISM Band",
		UplinkChannels:       []uint32{865062500, 865402500, 865985000},
		DownlinkChannels:     []uint32{865062500, 865402500, 865985000},
		RX2Frequency:         866550000,
		DefaultUplinkChannel: 865062500,
		DefaultDataRate:      "SF7BW125",
		MaxPower:             30,
	},
	"KR920": {
		Name:                 "KR920",
		Description:          "Korean 920-923 MHz ISM Band",
		UplinkChannels:       channelRange(922100000, 200000, 7),
		DownlinkChannels:     channelRange(922100000, 200000, 7),
		RX2Frequency:         922100000,
		DefaultUplinkChannel: 922100000,
		DefaultDataRate:      "SF7BW125",
		MaxPower:             14,
	},
}

func planKey(name string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
}

// GetFrequencyPlan returns the named plan. Matching is case-insensitive and
// treats '-' and '_' alike, so both "AS923-1" and "as923_1" resolve.
func GetFrequencyPlan(name string) (*FrequencyPlan, error) {
	plan, ok := frequencyPlans[planKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownFrequencyPlan, name,
			strings.Join(AvailableFrequencyPlans(), ", "))
	}
	return plan, nil
}

// AvailableFrequencyPlans lists the plan names in sorted order
func AvailableFrequencyPlans() []string {
	names := make([]string, 0, len(frequencyPlans))
	for _, p := range frequencyPlans {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}
