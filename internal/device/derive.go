package device

import (
	"fmt"
	"math"
)

// Base angle limits in degrees.
const (
	MaxHeadAngle = 60
	MaxFeetAngle = 45
)

// PresetTolerance is how far, in degrees, each angle may be from a preset
// and still classify as that preset.
const PresetTolerance = 2.0

// Preset names a fixed head/feet combination for the adjustable base.
type Preset string

// Base presets. PresetCustom is the classification for positions that match
// no preset; it cannot be applied.
const (
	PresetFlat        Preset = "flat"
	PresetSleep       Preset = "sleep"
	PresetRelax       Preset = "relax"
	PresetZeroGravity Preset = "zero_gravity"
	PresetAntiSnore   Preset = "anti_snore"
	PresetCustom      Preset = "custom"
)

// PresetDefinition is one row of the preset table.
type PresetDefinition struct {
	Name Preset `json:"name"`
	Head int    `json:"head"`
	Feet int    `json:"feet"`
}

var presetTable = []PresetDefinition{
	{Name: PresetFlat, Head: 0, Feet: 0},
	{Name: PresetSleep, Head: 10, Feet: 5},
	{Name: PresetRelax, Head: 30, Feet: 15},
	{Name: PresetZeroGravity, Head: 30, Feet: 30},
	{Name: PresetAntiSnore, Head: 20, Feet: 0},
}

// Presets returns a copy of the preset table.
func Presets() []PresetDefinition {
	out := make([]PresetDefinition, len(presetTable))
	copy(out, presetTable)
	return out
}

// PresetAngles returns the head and feet angles for a named preset.
// Returns ErrUnknownPreset for names not in the table, including "custom".
func PresetAngles(name Preset) (head, feet int, err error) {
	for _, p := range presetTable {
		if p.Name == name {
			return p.Head, p.Feet, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

// ClassifyPreset returns the preset whose angles are both within
// PresetTolerance of the given position, or PresetCustom.
// When several presets match, the closest wins.
func ClassifyPreset(head, feet float64) Preset {
	best := PresetCustom
	bestDist := math.Inf(1)
	for _, p := range presetTable {
		dh := math.Abs(head - float64(p.Head))
		df := math.Abs(feet - float64(p.Feet))
		if dh > PresetTolerance || df > PresetTolerance {
			continue
		}
		if d := dh + df; d < bestDist {
			best = p.Name
			bestDist = d
		}
	}
	return best
}

// ClampHead limits a head angle to [0, MaxHeadAngle].
func ClampHead(angle float64) float64 {
	return clamp(angle, 0, MaxHeadAngle)
}

// ClampFeet limits a feet angle to [0, MaxFeetAngle].
func ClampFeet(angle float64) float64 {
	return clamp(angle, 0, MaxFeetAngle)
}

// CoverPosition maps a head angle onto 0..100.
func CoverPosition(head float64) int {
	return int(math.Round(ClampHead(head) / MaxHeadAngle * 100))
}

// CoverTilt maps a feet angle onto 0..100.
func CoverTilt(feet float64) int {
	return int(math.Round(ClampFeet(feet) / MaxFeetAngle * 100))
}

// HeadAngleForPosition is the inverse of CoverPosition.
func HeadAngleForPosition(position int) int {
	return int(math.Round(clamp(float64(position), 0, 100) / 100 * MaxHeadAngle))
}

// FeetAngleForTilt is the inverse of CoverTilt.
func FeetAngleForTilt(tilt int) int {
	return int(math.Round(clamp(float64(tilt), 0, 100) / 100 * MaxFeetAngle))
}

// CoverClosed reports whether the base is flat.
func CoverClosed(head, feet float64) bool {
	return head == 0 && feet == 0
}

// WaterLevelPercent maps a raw sensor value onto 0..100 using the reading's
// calibration points. The second result is false when the calibration is
// unusable (full not above empty).
func WaterLevelPercent(r WaterLevelReading) (float64, bool) {
	span := r.CalibratedFull - r.CalibratedEmpty
	if span <= 0 {
		return 0, false
	}
	pct := (r.Raw - r.CalibratedEmpty) / span * 100
	return math.Round(clamp(pct, 0, 100)*10) / 10, true
}

// HVAC is the derived heating/cooling activity of one side.
type HVAC string

// HVAC actions.
const (
	HVACOff     HVAC = "off"
	HVACIdle    HVAC = "idle"
	HVACHeating HVAC = "heating"
	HVACCooling HVAC = "cooling"
)

// hvacDeadband is the temperature difference, in °F, treated as on target.
const hvacDeadband = 1.0

// HVACAction derives what a side is doing from its power and temperatures.
func HVACAction(s SideStatus) HVAC {
	if !s.IsOn {
		return HVACOff
	}
	target := float64(s.TargetTemperatureF)
	switch {
	case math.Abs(s.CurrentTemperatureF-target) < hvacDeadband:
		return HVACIdle
	case s.CurrentTemperatureF < target:
		return HVACHeating
	default:
		return HVACCooling
	}
}

// CelsiusToFahrenheit converts and rounds to one decimal.
func CelsiusToFahrenheit(c float64) float64 {
	return math.Round((c*9/5+32)*10) / 10
}

// SideView is the derived view of one side.
type SideView struct {
	HVACAction HVAC        `json:"hvac_action"`
	AwayMode   bool        `json:"away_mode"`
	Vitals     *SideVitals `json:"vitals,omitempty"`
}

// BaseView is the derived view of the base.
type BaseView struct {
	Position int    `json:"position"`
	Tilt     int    `json:"tilt"`
	Preset   Preset `json:"preset"`
	Closed   bool   `json:"closed"`
	Moving   bool   `json:"moving"`
}

// DerivedView holds every derived value for a snapshot.
type DerivedView struct {
	Available         bool      `json:"available"`
	Left              SideView  `json:"left"`
	Right             SideView  `json:"right"`
	WaterLevelPercent *float64  `json:"water_level_percent,omitempty"`
	RoomTemperatureF  *float64  `json:"room_temperature_f,omitempty"`
	Base              *BaseView `json:"base,omitempty"`
}

// Derive projects a snapshot into its derived values. The base view is only
// present once a base has been detected; vitals only when biometrics are on.
func Derive(s Snapshot) DerivedView {
	view := DerivedView{
		Available: s.Available,
		Left:      deriveSide(s, SideLeft),
		Right:     deriveSide(s, SideRight),
	}

	if s.Status.WaterLevel != nil {
		if pct, ok := WaterLevelPercent(*s.Status.WaterLevel); ok {
			view.WaterLevelPercent = &pct
		}
	}
	if rc := s.Status.RoomClimate; rc != nil && rc.TemperatureC != nil {
		f := CelsiusToFahrenheit(*rc.TemperatureC)
		view.RoomTemperatureF = &f
	}
	if s.Base.Detected {
		view.Base = &BaseView{
			Position: CoverPosition(s.Base.HeadAngle),
			Tilt:     CoverTilt(s.Base.FeetAngle),
			Preset:   ClassifyPreset(s.Base.HeadAngle, s.Base.FeetAngle),
			Closed:   CoverClosed(s.Base.HeadAngle, s.Base.FeetAngle),
			Moving:   s.Base.IsMoving,
		}
	}

	return view
}

func deriveSide(s Snapshot, side Side) SideView {
	view := SideView{
		HVACAction: HVACAction(*s.Status.Side(side)),
		AwayMode:   s.Settings.Side(side).Away.Active,
	}
	if s.Settings.BiometricsEnabled && s.Vitals.Loaded() {
		v := s.Vitals.Side(side).clone()
		view.Vitals = &v
	}
	return view
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
