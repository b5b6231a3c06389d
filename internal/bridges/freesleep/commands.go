package freesleep

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/freesleep-core/internal/device"
)

// Kind names a command.
type Kind string

// Command kinds.
const (
	KindSetTemperature           Kind = "set-temperature"
	KindSetPower                 Kind = "set-power"
	KindSetBasePosition          Kind = "set-base-position"
	KindApplyPreset              Kind = "apply-preset"
	KindOpenBase                 Kind = "open-base"
	KindCloseBase                Kind = "close-base"
	KindStopBase                 Kind = "stop-base"
	KindSetSchedule              Kind = "set-schedule"
	KindSetAlarm                 Kind = "set-alarm"
	KindEnableAwayMode           Kind = "enable-away-mode"
	KindDisableAwayMode          Kind = "disable-away-mode"
	KindPrimePod                 Kind = "prime-pod"
	KindSetLEDBrightness         Kind = "set-led-brightness"
	KindSetLinkSides             Kind = "set-link-sides"
	KindSnoozeAlarm              Kind = "snooze-alarm"
	KindDismissPrimeNotification Kind = "dismiss-prime-notification"
	KindRefresh                  Kind = "refresh"
)

var allKinds = []Kind{
	KindSetTemperature,
	KindSetPower,
	KindSetBasePosition,
	KindApplyPreset,
	KindOpenBase,
	KindCloseBase,
	KindStopBase,
	KindSetSchedule,
	KindSetAlarm,
	KindEnableAwayMode,
	KindDisableAwayMode,
	KindPrimePod,
	KindSetLEDBrightness,
	KindSetLinkSides,
	KindSnoozeAlarm,
	KindDismissPrimeNotification,
	KindRefresh,
}

// Kinds returns every command kind.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind converts a string into a Kind. Underscores are accepted in
// place of dashes.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	for _, known := range allKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// sided reports whether a kind targets one side.
func (k Kind) sided() bool {
	switch k {
	case KindSetTemperature, KindSetPower, KindSetSchedule, KindSetAlarm,
		KindEnableAwayMode, KindDisableAwayMode, KindSnoozeAlarm:
		return true
	default:
		return false
	}
}

// Command parameter limits.
const (
	MinTemperatureF  = 55
	MaxTemperatureF  = 110
	MinFeedRate      = 30
	MaxFeedRate      = 100
	MinLEDBrightness = 0
	MaxLEDBrightness = 100
)

// Weekdays accepted for schedules and alarms.
var Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// Command is a tagged request as received from a consumer.
type Command struct {
	// ID correlates the command with its ack and log entry. Assigned if empty.
	ID string `json:"id,omitempty"`

	Kind   Kind        `json:"kind"`
	Side   device.Side `json:"side,omitempty"`
	Params Params      `json:"params"`

	// Source identifies the caller (api, mqtt, cli).
	Source string `json:"source,omitempty"`
}

// Params holds the parameters of every command kind. Each kind reads only
// its own fields.
type Params struct {
	TemperatureF *int            `json:"temperature_f,omitempty"`
	On           *bool           `json:"on,omitempty"`
	Head         *int            `json:"head,omitempty"`
	Feet         *int            `json:"feet,omitempty"`
	FeedRate     *int            `json:"feed_rate,omitempty"`
	Preset       device.Preset   `json:"preset,omitempty"`
	Day          string          `json:"day,omitempty"`
	Schedule     json.RawMessage `json:"schedule,omitempty"`
	Alarm        json.RawMessage `json:"alarm,omitempty"`
	AwayStart    string          `json:"away_start,omitempty"`
	AwayReturn   string          `json:"away_return,omitempty"`
	Brightness   *int            `json:"brightness,omitempty"`
	Linked       *bool           `json:"linked,omitempty"`
}

// validate checks structure and ranges. It never looks at pod state.
func (c Command) validate() error {
	if c.Kind.sided() {
		if _, err := device.ParseSide(string(c.Side)); err != nil {
			return &ValidationError{Field: "side", Reason: "must be left or right"}
		}
	}

	p := c.Params
	switch c.Kind {
	case KindSetTemperature:
		if p.TemperatureF == nil {
			return &ValidationError{Field: "temperature_f", Reason: "required"}
		}
		return checkRange("temperature_f", *p.TemperatureF, MinTemperatureF, MaxTemperatureF)

	case KindSetPower:
		if p.On == nil {
			return &ValidationError{Field: "on", Reason: "required"}
		}

	case KindSetBasePosition:
		if p.Head == nil || p.Feet == nil {
			return &ValidationError{Field: "head/feet", Reason: "both required"}
		}
		if err := checkRange("head", *p.Head, 0, device.MaxHeadAngle); err != nil {
			return err
		}
		if err := checkRange("feet", *p.Feet, 0, device.MaxFeetAngle); err != nil {
			return err
		}
		return checkFeedRate(p.FeedRate)

	case KindApplyPreset:
		if _, _, err := device.PresetAngles(p.Preset); err != nil {
			return &ValidationError{Field: "preset", Reason: fmt.Sprintf("unknown preset %q", p.Preset)}
		}
		return checkFeedRate(p.FeedRate)

	case KindOpenBase, KindCloseBase:
		return checkFeedRate(p.FeedRate)

	case KindSetSchedule:
		if err := checkDay(p.Day); err != nil {
			return err
		}
		return checkObject("schedule", p.Schedule)

	case KindSetAlarm:
		if err := checkDay(p.Day); err != nil {
			return err
		}
		return checkObject("alarm", p.Alarm)

	case KindEnableAwayMode:
		_, _, err := p.awayDates()
		return err

	case KindSetLEDBrightness:
		if p.Brightness == nil {
			return &ValidationError{Field: "brightness", Reason: "required"}
		}
		return checkRange("brightness", *p.Brightness, MinLEDBrightness, MaxLEDBrightness)

	case KindSetLinkSides:
		if p.Linked == nil {
			return &ValidationError{Field: "linked", Reason: "required"}
		}

	case KindStopBase, KindDisableAwayMode, KindPrimePod, KindSnoozeAlarm,
		KindDismissPrimeNotification, KindRefresh:

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Kind)
	}
	return nil
}

// awayDates parses the optional away-mode range.
func (p Params) awayDates() (start, end *time.Time, err error) {
	if p.AwayStart != "" {
		t, err := ParseAwayDate(p.AwayStart)
		if err != nil {
			return nil, nil, &ValidationError{Field: "away_start", Reason: err.Error()}
		}
		start = &t
	}
	if p.AwayReturn != "" {
		t, err := ParseAwayDate(p.AwayReturn)
		if err != nil {
			return nil, nil, &ValidationError{Field: "away_return", Reason: err.Error()}
		}
		end = &t
	}
	if start != nil && end != nil && start.After(*end) {
		return nil, nil, &ValidationError{Field: "away_return", Reason: "before away_start"}
	}
	return start, end, nil
}

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%d outside [%d, %d]", v, lo, hi)}
	}
	return nil
}

func checkFeedRate(rate *int) error {
	if rate == nil {
		return nil
	}
	return checkRange("feed_rate", *rate, MinFeedRate, MaxFeedRate)
}

func checkDay(day string) error {
	for _, d := range Weekdays {
		if day == d {
			return nil
		}
	}
	return &ValidationError{Field: "day", Reason: fmt.Sprintf("%q is not a weekday name", day)}
}

func checkObject(field string, raw json.RawMessage) error {
	var obj map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil || obj == nil {
		return &ValidationError{Field: field, Reason: "must be a JSON object"}
	}
	return nil
}
