package purelink

import (
	"fmt"
	"strconv"
	"strings"
)

// tempTextWidth is how many characters of the temperature the host shows.
const tempTextWidth = 4

// Channel is a logical host channel. Values are the host's unit numbers.
type Channel int

const (
	ChannelFanMode           Channel = 1
	ChannelNightMode         Channel = 2
	ChannelFanSpeed          Channel = 3
	ChannelOscillation       Channel = 4
	ChannelStandbyMonitoring Channel = 5
	ChannelFilterLife        Channel = 6
	ChannelQualityTarget     Channel = 7
	ChannelTempHum           Channel = 8
	ChannelVOC               Channel = 9
	ChannelParticulates      Channel = 10
	ChannelSleepTimer        Channel = 11
	ChannelFanState          Channel = 12
)

// ChannelKind tells the host how to present a channel.
type ChannelKind string

const (
	SelectorChannel   ChannelKind = "selector"
	SwitchChannel     ChannelKind = "switch"
	CustomChannel     ChannelKind = "custom"
	TempHumChannel    ChannelKind = "temp_hum"
	AirQualityChannel ChannelKind = "air_quality"
	TimerChannel      ChannelKind = "timer"
)

// ChannelSpec describes a channel the host should create.
type ChannelSpec struct {
	Channel Channel
	Name    string
	Kind    ChannelKind
}

var channelSpecs = []ChannelSpec{
	{ChannelFanMode, "Fan mode", SelectorChannel},
	{ChannelNightMode, "Night mode", SwitchChannel},
	{ChannelFanSpeed, "Fan speed", SelectorChannel},
	{ChannelOscillation, "Oscillation", SwitchChannel},
	{ChannelStandbyMonitoring, "Standby monitor", SwitchChannel},
	{ChannelFilterLife, "Remaining filter life", CustomChannel},
	{ChannelQualityTarget, "Air quality setpoint", CustomChannel},
	{ChannelTempHum, "Temperature and humidity", TempHumChannel},
	{ChannelVOC, "Volatile organic", AirQualityChannel},
	{ChannelParticulates, "Dust", AirQualityChannel},
	{ChannelSleepTimer, "Sleep timer", TimerChannel},
	{ChannelFanState, "Fan state", SelectorChannel},
}

// ChannelSpecs returns every channel the bridge publishes, in unit order.
func ChannelSpecs() []ChannelSpec {
	out := make([]ChannelSpec, len(channelSpecs))
	copy(out, channelSpecs)
	return out
}

func (c Channel) String() string {
	for _, s := range channelSpecs {
		if s.Channel == c {
			return s.Name
		}
	}
	return fmt.Sprintf("Channel(%d)", int(c))
}

// ChannelValue is one host update: a numeric and a display value.
type ChannelValue struct {
	Channel Channel `json:"unit"`
	NValue  int     `json:"n_value"`
	SValue  string  `json:"s_value"`
}

// selectorLevel is the host selector level for an ordinal: 0 -> 10, 1 -> 20.
func selectorLevel(ordinal int) string {
	return strconv.Itoa((ordinal + 1) * levelsPerStep)
}

// speedAutoLevel is the selector level that shows "Auto" on the speed channel.
const speedAutoLevel = "110"

// StateChannels converts a state snapshot into host channel values.
func StateChannels(s StateSnapshot) []ChannelValue {
	speed := speedAutoLevel
	if !s.FanSpeed.Auto {
		speed = strconv.Itoa(s.FanSpeed.Level * levelsPerStep)
	}
	return []ChannelValue{
		{ChannelOscillation, int(s.Oscillation), s.Oscillation.String()},
		{ChannelNightMode, int(s.NightMode), s.NightMode.String()},
		{ChannelStandbyMonitoring, int(s.StandbyMonitoring), s.StandbyMonitoring.String()},
		{ChannelFanSpeed, 1, speed},
		{ChannelFanMode, int(s.FanMode), selectorLevel(int(s.FanMode))},
		{ChannelFanState, int(s.FanState), selectorLevel(int(s.FanState))},
		{ChannelFilterLife, s.FilterLife, strconv.Itoa(s.FilterLife)},
		{ChannelQualityTarget, s.QualityTarget, strconv.Itoa(s.QualityTarget)},
	}
}

// temperatureText renders a temperature in its shortest decimal form, with
// at least one fractional digit, cut to four characters: 22.45 is "22.4",
// 9.35 is "9.35" and 21 is "21.0".
func temperatureText(celsius float64) string {
	text := strconv.FormatFloat(celsius, 'f', -1, 64)
	if !strings.Contains(text, ".") {
		text += ".0"
	}
	if len(text) > tempTextWidth {
		text = text[:tempTextWidth]
	}
	return text
}

// SensorChannels converts a sensor snapshot into host channel values.
func SensorChannels(s SensorSnapshot) []ChannelValue {
	sleep := Off.String()
	if s.SleepTimer > 0 {
		sleep = strconv.Itoa(s.SleepTimer)
	}
	return []ChannelValue{
		{ChannelTempHum, 1, fmt.Sprintf("%s;%d;1", temperatureText(s.Temperature), s.Humidity)},
		{ChannelVOC, s.VOC, strconv.Itoa(s.VOC)},
		{ChannelParticulates, s.Particulates, strconv.Itoa(s.Particulates)},
		{ChannelSleepTimer, s.SleepTimer, sleep},
	}
}
