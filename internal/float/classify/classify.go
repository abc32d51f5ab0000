// Package classify derives float status, float type and battery estimates
// from deployment metadata and telemetry.
package classify

import (
	"strings"
	"time"

	"github.com/smallbiznis/atlas/internal/float/domain"
)

const (
	activeWithin   = 45
	inactiveWithin = 540
)

// Status labels a float from its mission end date and the time of its last
// profile. A set end date always means INACTIVE.
func Status(endMission, lastProfile *time.Time, now time.Time) domain.Status {
	if endMission != nil && !endMission.IsZero() {
		return domain.StatusInactive
	}
	if lastProfile == nil || lastProfile.IsZero() {
		return domain.StatusUnknown
	}
	days := int(now.Sub(*lastProfile).Hours() / 24)
	switch {
	case days < activeWithin:
		return domain.StatusActive
	case days < inactiveWithin:
		return domain.StatusInactive
	default:
		return domain.StatusDead
	}
}

var deepFamilies = map[string]struct{}{
	"DEEP":       {},
	"DEEP ARVOR": {},
	"DEEP NINJA": {},
	"DEEP APEX":  {},
}

// Type classifies a float by platform family, parameters and sensors.
func Type(platformFamily string, params, sensors []string) domain.FloatType {
	if _, ok := deepFamilies[strings.ToUpper(strings.TrimSpace(platformFamily))]; ok {
		return domain.FloatTypeDeep
	}

	p := lowerSet(params)
	s := lowerSet(sensors)
	if len(p) == 0 && len(s) == 0 {
		return domain.FloatTypeUnknown
	}

	hasOxygen := p.any("doxy", "doxy2", "doxy3")
	hasOptode := s.contains("opto")
	hasChla := p.any("chla") || p.contains("chlorophyll")
	hasBackscatter := p.any("bbp470", "bbp532", "bbp700", "beta_backscattering")
	hasNitrate := p.any("nitrate", "ntra", "ntrate")
	hasPH := p.any("ph_in_situ_total")
	hasCDOM := p.any("cdom")
	otherBGC := hasChla || hasBackscatter || hasNitrate || hasPH || hasCDOM

	switch {
	case hasOxygen || hasOptode:
		if otherBGC {
			return domain.FloatTypeBiogeochemical
		}
		return domain.FloatTypeOxygen
	case otherBGC:
		return domain.FloatTypeBiogeochemical
	case len(p) > 3 || s.contains("bio"):
		return domain.FloatTypeBiogeochemical
	default:
		return domain.FloatTypeCore
	}
}

type set []string

func lowerSet(values []string) set {
	out := make(set, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s set) any(names ...string) bool {
	for _, v := range s {
		for _, n := range names {
			if v == n {
				return true
			}
		}
	}
	return false
}

func (s set) contains(sub string) bool {
	for _, v := range s {
		if strings.Contains(v, sub) {
			return true
		}
	}
	return false
}
