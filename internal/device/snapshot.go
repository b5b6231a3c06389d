package device

import (
	"encoding/json"
	"fmt"
	"time"
)

// Side identifies one half of the pod.
type Side string

// Pod sides.
const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Sides lists both sides in a stable order.
var Sides = []Side{SideLeft, SideRight}

// ParseSide converts a string into a Side.
// Returns ErrUnknownSide for anything other than "left" or "right".
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideLeft, SideRight:
		return Side(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSide, s)
	}
}

// Category is an independently polled and merged partition of device state.
type Category string

// Snapshot categories. CategoryAvailability carries no data of its own; it is
// signalled when the aggregated availability condition flips.
const (
	CategoryStatus       Category = "status"
	CategoryBase         Category = "base"
	CategoryVitals       Category = "vitals"
	CategorySettings     Category = "settings"
	CategoryAvailability Category = "availability"
)

// Categories lists the data-bearing categories.
var Categories = []Category{CategoryStatus, CategoryBase, CategoryVitals, CategorySettings}

// ParseCategory converts a string into a Category.
// "schedules" is accepted as an alias for settings.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryStatus, CategoryBase, CategoryVitals, CategorySettings, CategoryAvailability:
		return Category(s), nil
	case "schedules":
		return CategorySettings, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// Freshness tracks when a category was last merged and whether the most
// recent poll for it failed.
type Freshness struct {
	LastUpdated time.Time `json:"last_updated"`
	Stale       bool      `json:"stale"`
	LastError   string    `json:"last_error,omitempty"`
}

// Loaded reports whether the category has been merged at least once.
func (f Freshness) Loaded() bool {
	return !f.LastUpdated.IsZero()
}

// SideStatus is the per-side portion of the status category.
type SideStatus struct {
	IsOn                bool    `json:"is_on"`
	TargetTemperatureF  int     `json:"target_temperature_f"`
	CurrentTemperatureF float64 `json:"current_temperature_f"`
	SecondsRemaining    int     `json:"seconds_remaining"`
	IsAlarmVibrating    bool    `json:"is_alarm_vibrating"`
}

// WaterLevelReading is the raw water sensor value with its calibration points.
type WaterLevelReading struct {
	Raw             float64 `json:"raw"`
	CalibratedEmpty float64 `json:"calibrated_empty"`
	CalibratedFull  float64 `json:"calibrated_full"`
}

// RoomClimate is the ambient sensor reading, when the pod has one.
type RoomClimate struct {
	TemperatureC *float64 `json:"temperature_c,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
}

// Status is the fast-polled category: power, temperatures, priming and water.
type Status struct {
	Freshness

	Left  SideStatus `json:"left"`
	Right SideStatus `json:"right"`

	IsPriming                  bool               `json:"is_priming"`
	PrimeCompletedNotification bool               `json:"prime_completed_notification"`
	WaterLevelOK               bool               `json:"water_level_ok"`
	WaterLevel                 *WaterLevelReading `json:"water_level,omitempty"`
	LEDBrightness              *int               `json:"led_brightness,omitempty"`
	RoomClimate                *RoomClimate       `json:"room_climate,omitempty"`
}

// Side returns a pointer to the given side's status, or nil for an unknown side.
func (s *Status) Side(side Side) *SideStatus {
	switch side {
	case SideLeft:
		return &s.Left
	case SideRight:
		return &s.Right
	default:
		return nil
	}
}

// Base is the adjustable base category.
type Base struct {
	Freshness

	// Detected is set once a base read succeeds and never cleared.
	Detected  bool    `json:"detected"`
	HeadAngle float64 `json:"head_angle"`
	FeetAngle float64 `json:"feet_angle"`
	IsMoving  bool    `json:"is_moving"`

	// ConfirmedHeadAngle and ConfirmedFeetAngle are the angles from the last
	// successful base read. Commands move HeadAngle/FeetAngle ahead of the
	// device; these only change on a poll.
	ConfirmedHeadAngle float64 `json:"confirmed_head_angle"`
	ConfirmedFeetAngle float64 `json:"confirmed_feet_angle"`

	// FeedRate is the last-requested movement speed; the device does not report it.
	FeedRate int `json:"feed_rate"`
}

// SideVitals holds biometric summaries for one side. Nil means no reading.
type SideVitals struct {
	HeartRate     *float64 `json:"heart_rate,omitempty"`
	HRV           *float64 `json:"hrv,omitempty"`
	BreathingRate *float64 `json:"breathing_rate,omitempty"`
}

// Vitals is the slow-polled biometrics category.
type Vitals struct {
	Freshness

	Left  SideVitals `json:"left"`
	Right SideVitals `json:"right"`
}

// Side returns a pointer to the given side's vitals, or nil for an unknown side.
func (v *Vitals) Side(side Side) *SideVitals {
	switch side {
	case SideLeft:
		return &v.Left
	case SideRight:
		return &v.Right
	default:
		return nil
	}
}

// AwayMode is the per-side away state.
// While Active, temperature and power-on writes for the side are rejected.
type AwayMode struct {
	Active bool       `json:"active"`
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
}

// SideSettings holds the per-side settings and schedules.
type SideSettings struct {
	Away AwayMode `json:"away"`

	// Schedules maps a weekday (monday..sunday) to the device's schedule
	// object for that day, alarm included. Kept verbatim.
	Schedules map[string]json.RawMessage `json:"schedules,omitempty"`
}

// Settings is the on-demand settings/schedules category.
type Settings struct {
	Freshness

	Left  SideSettings `json:"left"`
	Right SideSettings `json:"right"`

	LinkBothSides     bool `json:"link_both_sides"`
	BiometricsEnabled bool `json:"biometrics_enabled"`
}

// Side returns a pointer to the given side's settings, or nil for an unknown side.
func (s *Settings) Side(side Side) *SideSettings {
	switch side {
	case SideLeft:
		return &s.Left
	case SideRight:
		return &s.Right
	default:
		return nil
	}
}

// Snapshot is the merged device state.
type Snapshot struct {
	Status   Status   `json:"status"`
	Base     Base     `json:"base"`
	Vitals   Vitals   `json:"vitals"`
	Settings Settings `json:"settings"`

	// Available is false once the status loop has failed the configured
	// number of consecutive times.
	Available           bool `json:"available"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
}

// Freshness returns the freshness of a category.
// The availability category reports the status freshness.
func (s *Snapshot) Freshness(category Category) *Freshness {
	switch category {
	case CategoryStatus, CategoryAvailability:
		return &s.Status.Freshness
	case CategoryBase:
		return &s.Base.Freshness
	case CategoryVitals:
		return &s.Vitals.Freshness
	case CategorySettings:
		return &s.Settings.Freshness
	default:
		return nil
	}
}

// Category returns the JSON-serialisable value for one category.
func (s *Snapshot) Category(category Category) (any, error) {
	switch category {
	case CategoryStatus:
		return s.Status, nil
	case CategoryBase:
		return s.Base, nil
	case CategoryVitals:
		return s.Vitals, nil
	case CategorySettings:
		return s.Settings, nil
	case CategoryAvailability:
		return map[string]any{
			"available":            s.Available,
			"consecutive_failures": s.ConsecutiveFailures,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	cpy := s

	if s.Status.WaterLevel != nil {
		wl := *s.Status.WaterLevel
		cpy.Status.WaterLevel = &wl
	}
	cpy.Status.LEDBrightness = clonePtr(s.Status.LEDBrightness)
	if s.Status.RoomClimate != nil {
		rc := RoomClimate{
			TemperatureC: clonePtr(s.Status.RoomClimate.TemperatureC),
			Humidity:     clonePtr(s.Status.RoomClimate.Humidity),
		}
		cpy.Status.RoomClimate = &rc
	}

	cpy.Vitals.Left = s.Vitals.Left.clone()
	cpy.Vitals.Right = s.Vitals.Right.clone()

	cpy.Settings.Left = s.Settings.Left.clone()
	cpy.Settings.Right = s.Settings.Right.clone()

	return cpy
}

func (v SideVitals) clone() SideVitals {
	return SideVitals{
		HeartRate:     clonePtr(v.HeartRate),
		HRV:           clonePtr(v.HRV),
		BreathingRate: clonePtr(v.BreathingRate),
	}
}

func (s SideSettings) clone() SideSettings {
	cpy := SideSettings{
		Away: AwayMode{
			Active: s.Away.Active,
			Start:  clonePtr(s.Away.Start),
			End:    clonePtr(s.Away.End),
		},
	}
	if s.Schedules != nil {
		cpy.Schedules = make(map[string]json.RawMessage, len(s.Schedules))
		for day, raw := range s.Schedules {
			b := make(json.RawMessage, len(raw))
			copy(b, raw)
			cpy.Schedules[day] = b
		}
	}
	return cpy
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
