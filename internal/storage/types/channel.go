package types

import "strings"

// Channel identifies a sensor channel.
type Channel uint8

const (
	// ChannelUnknown is the zero value; it is never stored.
	ChannelUnknown Channel = iota
	// ChannelEDA is electrodermal activity (skin conductance).
	ChannelEDA
	// ChannelHR is heart rate.
	ChannelHR
	// ChannelBI is beat interval in milliseconds.
	ChannelBI
	// ChannelPG is the photoplethysmography (blood volume pulse) signal.
	ChannelPG
	// ChannelForce is the respiration belt force reading.
	ChannelForce
)

// channelNames maps each channel to its address suffix / column name.
var channelNames = [...]string{
	ChannelUnknown: "unknown",
	ChannelEDA:     "EDA",
	ChannelHR:      "HR",
	ChannelBI:      "BI",
	ChannelPG:      "PG",
	ChannelForce:   "force",
}

// channelBySuffix is the dispatch table from address suffix to channel.
var channelBySuffix = func() map[string]Channel {
	m := make(map[string]Channel, len(channelNames))
	for c, name := range channelNames {
		if Channel(c) == ChannelUnknown {
			continue
		}
		m[name] = Channel(c)
	}
	return m
}()

// String returns the column name of the channel.
func (c Channel) String() string {
	if int(c) < len(channelNames) {
		return channelNames[c]
	}
	return "unknown"
}

// ParseChannel resolves an address suffix or column name. Matching is exact;
// OSC addresses are case sensitive.
func ParseChannel(s string) (Channel, bool) {
	c, ok := channelBySuffix[s]
	return c, ok
}

// ParseChannelFold is ParseChannel ignoring case, for human input.
func ParseChannelFold(s string) (Channel, bool) {
	for name, c := range channelBySuffix {
		if strings.EqualFold(name, s) {
			return c, true
		}
	}
	return ChannelUnknown, false
}
