package lorawan

const (
	cn470UplinkChannels   = 96
	cn470DownlinkChannels = 48
)

// CN470GetUplinkFrequency returns the frequency of an uplink channel (0-95)
func CN470GetUplinkFrequency(channel int) uint32 {
	if channel < 0 || channel >= cn470UplinkChannels {
		return 0
	}
	return uint32(470300000 + channel*200000)
}

// CN470GetDownlinkFrequency returns the frequency of a downlink channel (0-47)
func CN470GetDownlinkFrequency(channel int) uint32 {
	if channel < 0 || channel >= cn470DownlinkChannels {
		return 0
	}
	return uint32(500300000 + channel*200000)
}

// CN470GetDownlinkChannelForUplink maps an uplink channel onto the downlink channel used for RX1
func CN470GetDownlinkChannelForUplink(uplinkChannel int) int {
	return uplinkChannel % cn470DownlinkChannels
}

// cn470Channels enumerates the first n channels using freq
func cn470Channels(n int, freq func(int) uint32) []uint32 {
	out := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, freq(i))
	}
	return out
}
