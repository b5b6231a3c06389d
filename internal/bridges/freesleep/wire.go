package freesleep

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nerrad567/freesleep-core/internal/device"
)

// Pod REST endpoints.
const (
	endpointDeviceStatus  = "/api/deviceStatus"
	endpointSettings      = "/api/settings"
	endpointSchedules     = "/api/schedules"
	endpointBaseControl   = "/api/base-control"
	endpointBasePreset    = "/api/base-control/preset"
	endpointVitalsSummary = "/api/metrics/vitals/summary"
	endpointSnooze        = "/api/deviceStatus/snooze"
	endpointDismissPrime  = "/api/deviceStatus/dismissPrimeNotification"
	endpointVersion       = "/api/version"
)

// Payloads below mirror the pod's JSON. Pointers distinguish "absent" from
// zero where the difference matters.

type sideStatusPayload struct {
	IsOn                bool     `json:"isOn"`
	TargetTemperatureF  float64  `json:"targetTemperatureF"`
	CurrentTemperatureF *float64 `json:"currentTemperatureF"`
	SecondsRemaining    float64  `json:"secondsRemaining"`
	IsAlarmVibrating    bool     `json:"isAlarmVibrating"`
}

type waterLevelRawPayload struct {
	Raw             *float64 `json:"raw"`
	CalibratedEmpty *float64 `json:"calibratedEmpty"`
	CalibratedFull  *float64 `json:"calibratedFull"`
}

type roomClimatePayload struct {
	TemperatureC *float64 `json:"temperatureC"`
	Humidity     *float64 `json:"humidity"`
}

type statusSettingsPayload struct {
	LEDBrightness *int `json:"ledBrightness"`
}

type statusPayload struct {
	Left                       *sideStatusPayload     `json:"left"`
	Right                      *sideStatusPayload     `json:"right"`
	WaterLevel                 json.RawMessage        `json:"waterLevel"`
	WaterLevelRaw              *waterLevelRawPayload  `json:"waterLevelRaw"`
	IsPriming                  bool                   `json:"isPriming"`
	PrimeCompletedNotification json.RawMessage        `json:"primeCompletedNotification"`
	RoomClimate                *roomClimatePayload    `json:"roomClimate"`
	Settings                   *statusSettingsPayload `json:"settings"`
}

// toStatus converts a status payload. Both sides are required.
func (p statusPayload) toStatus() (device.Status, error) {
	if p.Left == nil || p.Right == nil {
		return device.Status{}, fmt.Errorf("%w: status without left/right sides", ErrProtocol)
	}

	s := device.Status{
		Left:                       p.Left.toSideStatus(),
		Right:                      p.Right.toSideStatus(),
		IsPriming:                  p.IsPriming,
		PrimeCompletedNotification: present(p.PrimeCompletedNotification),
		WaterLevelOK:               truthy(p.WaterLevel),
	}

	if w := p.WaterLevelRaw; w != nil && w.Raw != nil && w.CalibratedEmpty != nil && w.CalibratedFull != nil {
		s.WaterLevel = &device.WaterLevelReading{
			Raw:             *w.Raw,
			CalibratedEmpty: *w.CalibratedEmpty,
			CalibratedFull:  *w.CalibratedFull,
		}
	}
	if p.RoomClimate != nil && (p.RoomClimate.TemperatureC != nil || p.RoomClimate.Humidity != nil) {
		s.RoomClimate = &device.RoomClimate{
			TemperatureC: p.RoomClimate.TemperatureC,
			Humidity:     p.RoomClimate.Humidity,
		}
	}
	if p.Settings != nil {
		s.LEDBrightness = p.Settings.LEDBrightness
	}

	return s, nil
}

func (p sideStatusPayload) toSideStatus() device.SideStatus {
	s := device.SideStatus{
		IsOn:               p.IsOn,
		TargetTemperatureF: int(math.Round(p.TargetTemperatureF)),
		SecondsRemaining:   int(p.SecondsRemaining),
		IsAlarmVibrating:   p.IsAlarmVibrating,
	}
	if p.CurrentTemperatureF != nil {
		s.CurrentTemperatureF = *p.CurrentTemperatureF
	}
	return s
}

type basePayload struct {
	Head     *float64 `json:"head"`
	Feet     *float64 `json:"feet"`
	IsMoving bool     `json:"isMoving"`
}

// toBase converts a base payload. A payload with neither angle means the pod
// has no base attached.
func (p basePayload) toBase() (device.Base, error) {
	if p.Head == nil && p.Feet == nil {
		return device.Base{}, ErrNoBase
	}
	b := device.Base{Detected: true, IsMoving: p.IsMoving}
	if p.Head != nil {
		b.HeadAngle = *p.Head
	}
	if p.Feet != nil {
		b.FeetAngle = *p.Feet
	}
	return b, nil
}

type vitalsSummaryPayload struct {
	AvgHeartRate     *float64 `json:"avgHeartRate"`
	AvgHRV           *float64 `json:"avgHRV"`
	AvgBreathingRate *float64 `json:"avgBreathingRate"`
}

func (p vitalsSummaryPayload) toSideVitals() device.SideVitals {
	return device.SideVitals{
		HeartRate:     p.AvgHeartRate,
		HRV:           p.AvgHRV,
		BreathingRate: p.AvgBreathingRate,
	}
}

type sideSettingsPayload struct {
	AwayMode   bool    `json:"awayMode"`
	AwayStart  *string `json:"awayStart"`
	AwayReturn *string `json:"awayReturn"`
}

type settingsPayload struct {
	Left              *sideSettingsPayload `json:"left"`
	Right             *sideSettingsPayload `json:"right"`
	LinkBothSides     bool                 `json:"linkBothSides"`
	BiometricsEnabled *bool                `json:"biometricsEnabled"`
}

// toSettings converts a settings payload. Pods that do not report
// biometricsEnabled are treated as having biometrics on.
func (p settingsPayload) toSettings() device.Settings {
	s := device.Settings{
		LinkBothSides:     p.LinkBothSides,
		BiometricsEnabled: p.BiometricsEnabled == nil || *p.BiometricsEnabled,
	}
	if p.Left != nil {
		s.Left.Away = p.Left.toAwayMode()
	}
	if p.Right != nil {
		s.Right.Away = p.Right.toAwayMode()
	}
	return s
}

func (p sideSettingsPayload) toAwayMode() device.AwayMode {
	a := device.AwayMode{Active: p.AwayMode}
	if p.AwayStart != nil {
		if t, err := ParseAwayDate(*p.AwayStart); err == nil {
			a.Start = &t
		}
	}
	if p.AwayReturn != nil {
		if t, err := ParseAwayDate(*p.AwayReturn); err == nil {
			a.End = &t
		}
	}
	return a
}

type schedulesPayload struct {
	Left  map[string]json.RawMessage `json:"left"`
	Right map[string]json.RawMessage `json:"right"`
}

// awayDateLayouts are accepted for away-mode start and return dates.
var awayDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseAwayDate parses an away-mode date as RFC3339, a local timestamp or a
// plain YYYY-MM-DD date.
func ParseAwayDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range awayDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// SideStatusUpdate is the per-side part of a status write.
type SideStatusUpdate struct {
	IsOn               *bool `json:"isOn,omitempty"`
	TargetTemperatureF *int  `json:"targetTemperatureF,omitempty"`
}

// StatusSettingsUpdate is the settings part of a status write.
type StatusSettingsUpdate struct {
	LEDBrightness *int `json:"ledBrightness,omitempty"`
}

// StatusUpdate is the body of POST /api/deviceStatus.
type StatusUpdate struct {
	Left      *SideStatusUpdate     `json:"left,omitempty"`
	Right     *SideStatusUpdate     `json:"right,omitempty"`
	IsPriming *bool                 `json:"isPriming,omitempty"`
	Settings  *StatusSettingsUpdate `json:"settings,omitempty"`
}

// SetSide attaches a per-side update.
func (u *StatusUpdate) SetSide(side device.Side, s SideStatusUpdate) {
	if side == device.SideLeft {
		u.Left = &s
	} else {
		u.Right = &s
	}
}

// SideSettingsUpdate is the per-side away state in a settings write. Start
// and return are always sent so that disabling clears them with null.
type SideSettingsUpdate struct {
	AwayMode   bool    `json:"awayMode"`
	AwayStart  *string `json:"awayStart"`
	AwayReturn *string `json:"awayReturn"`
}

// SettingsUpdate is the body of POST /api/settings.
type SettingsUpdate struct {
	Left          *SideSettingsUpdate `json:"left,omitempty"`
	Right         *SideSettingsUpdate `json:"right,omitempty"`
	LinkBothSides *bool               `json:"linkBothSides,omitempty"`
}

// SetSide attaches a per-side update.
func (u *SettingsUpdate) SetSide(side device.Side, s SideSettingsUpdate) {
	if side == device.SideLeft {
		u.Left = &s
	} else {
		u.Right = &s
	}
}

// ScheduleUpdate is the body of POST /api/schedules: side -> day -> object.
type ScheduleUpdate map[device.Side]map[string]json.RawMessage

type basePositionRequest struct {
	Head     int `json:"head"`
	Feet     int `json:"feet"`
	FeedRate int `json:"feedRate"`
}

type basePresetRequest struct {
	Preset device.Preset `json:"preset"`
}

type snoozeRequest struct {
	Side device.Side `json:"side"`
}

// present reports whether a raw field holds a non-null value.
func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// truthy accepts both the pod's "true" string and a JSON boolean.
func truthy(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(s, "true")
	}
	return false
}
