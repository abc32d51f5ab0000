package classify

import (
	"strings"
	"time"
)

// BatteryInput describes what is known about a float's power supply.
type BatteryInput struct {
	PlatformType string
	LaunchDate   *time.Time
	CycleNumber  int
	Voltage      *float64
}

// BatteryPercent estimates remaining battery capacity in percent. Voltage
// wins when present; otherwise the cycle count is compared with a typical
// mission length. Nil means no estimate is possible.
func BatteryPercent(in BatteryInput) *int {
	platform := strings.ToUpper(strings.TrimSpace(in.PlatformType))

	if in.Voltage != nil {
		v := *in.Voltage
		var pct int
		switch {
		case alkaline(platform, in.LaunchDate):
			pct = clamp(int(100 * (v - 10.5) / 5.0))
		case strings.Contains(platform, "DEEP ARVOR"):
			// 28 V pack, two lithium stacks in series.
			pct = lithiumPercent(v / 2)
		default:
			pct = lithiumPercent(v)
		}
		return &pct
	}

	if in.CycleNumber <= 0 {
		return nil
	}
	typical := 220.0
	switch platform {
	case "APEX", "NAVIS", "SOLO-II":
		typical = 280
	}
	pct := clamp(int(100 * (1 - float64(in.CycleNumber)/typical)))
	return &pct
}

// Early APEX floats shipped with alkaline cells.
func alkaline(platform string, launch *time.Time) bool {
	return platform == "APEX" && launch != nil && launch.Year() <= 2010
}

// lithiumPercent follows the flat-then-steep discharge of primary lithium
// cells.
func lithiumPercent(v float64) int {
	switch {
	case v >= 14.0:
		return min(100, int(90+(v-14.0)*12))
	case v >= 13.0:
		return int(75 + (v-13.0)*15)
	case v >= 12.0:
		return int(55 + (v-12.0)*20)
	case v >= 11.6:
		return int(40 + (v-11.6)*50)
	case v >= 11.0:
		return int(15 + (v-11.0)*50)
	case v >= 10.8:
		return int(5 + (v-10.8)*50)
	default:
		return 0
	}
}

func clamp(v int) int {
	return max(0, min(100, v))
}
