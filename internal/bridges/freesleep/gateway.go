package freesleep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/freesleep-core/internal/device"
)

// Command sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
	SourceCLI  = "cli"
)

// commandLogTimeout bounds the command log write after a command completes.
const commandLogTimeout = 5 * time.Second

// SettingsReloader re-reads settings and schedules. *Coordinator implements it.
type SettingsReloader interface {
	// RequestSettingsReload queues an asynchronous reload.
	RequestSettingsReload()

	// RefreshSettings reloads synchronously.
	RefreshSettings(ctx context.Context) error
}

// GatewayOptions holds configuration for creating a gateway.
type GatewayOptions struct {
	// Client is the pod REST client. Required.
	Client PodClient

	// Cache is consulted for away mode and receives optimistic merges. Required.
	Cache *device.Cache

	// Reloader is asked for a settings reload after settings-side writes. Required.
	Reloader SettingsReloader

	// CommandLog is optional. If nil, commands are not persisted.
	CommandLog CommandLog

	// PodID identifies the pod in records and logs.
	PodID string

	// RequestTimeout bounds each pod call. Zero selects DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Logger is optional.
	Logger Logger

	// Metrics is optional.
	Metrics *Metrics
}

// Gateway validates commands and forwards them to the pod.
//
// Execute is the only path to the pod's write endpoints. For every command it:
//  1. validates structure and ranges (no pod call on failure)
//  2. rejects temperature and power-on writes to a side in away mode
//  3. performs the pod write
//  4. folds the intended result into the cache and flushes the notifier
//  5. queues a settings reload where the pod normalises what was written
//
// Every attempt, successful or not, is appended to the command log.
//
// Thread Safety: All methods are safe for concurrent use. Commands run on the
// caller's goroutine and may overlap with each other and with polls.
type Gateway struct {
	client     PodClient
	cache      *device.Cache
	reloader   SettingsReloader
	commandLog CommandLog
	podID      string
	timeout    time.Duration
	metrics    *Metrics

	stateMu  sync.RWMutex
	stopped  bool
	inflight sync.WaitGroup

	now func() time.Time

	logSink
}

// NewGateway creates a gateway.
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("pod client is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if opts.Reloader == nil {
		return nil, fmt.Errorf("settings reloader is required")
	}

	g := &Gateway{
		client:     opts.Client,
		cache:      opts.Cache,
		reloader:   opts.Reloader,
		commandLog: opts.CommandLog,
		podID:      opts.PodID,
		timeout:    orDefault(opts.RequestTimeout, DefaultRequestTimeout),
		metrics:    opts.Metrics,
		now:        time.Now,
	}
	g.SetLogger(opts.Logger)
	return g, nil
}

// Stop rejects new commands with ErrStopped and waits for running ones.
func (g *Gateway) Stop() {
	g.stateMu.Lock()
	g.stopped = true
	g.stateMu.Unlock()

	g.inflight.Wait()
}

// Execute runs one command.
//
// Parameters:
//   - ctx: Bounds the pod call together with the request timeout
//   - cmd: The command; ID is assigned if empty
//
// Returns:
//   - Record: What was attempted and how it ended (also when err != nil)
//   - error: *ValidationError, *AwayModeBlockedError, *DeviceError,
//     ErrUnreachable, ErrProtocol, ErrUnknownCommand or ErrStopped
func (g *Gateway) Execute(ctx context.Context, cmd Command) (Record, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Source == "" {
		cmd.Source = SourceAPI
	}

	g.stateMu.RLock()
	if g.stopped {
		g.stateMu.RUnlock()
		return g.newRecord(cmd, g.now(), ErrStopped), ErrStopped
	}
	g.inflight.Add(1)
	g.stateMu.RUnlock()
	defer g.inflight.Done()

	start := g.now()
	err := g.execute(ctx, cmd)
	rec := g.newRecord(cmd, start, err)

	g.metrics.ObserveCommand(cmd.Kind, err)
	g.appendLog(ctx, rec)

	if err != nil {
		g.logWarn("command failed",
			"command_id", cmd.ID,
			"kind", cmd.Kind,
			"side", cmd.Side,
			"code", rec.ErrorCode,
			"error", err)
	} else {
		g.logInfo("command executed",
			"command_id", cmd.ID,
			"kind", cmd.Kind,
			"side", cmd.Side,
			"duration", rec.Duration)
	}
	return rec, err
}

func (g *Gateway) execute(ctx context.Context, cmd Command) error {
	if err := cmd.validate(); err != nil {
		return err
	}
	if err := g.checkAwayMode(cmd); err != nil {
		return err
	}

	// refresh runs under the caller's context and its own timeout.
	if cmd.Kind == KindRefresh {
		return g.reloader.RefreshSettings(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.dispatch(callCtx, cmd); err != nil {
		return err
	}
	g.cache.Notifier().Flush()
	return nil
}

// checkAwayMode rejects temperature writes and power-on for a side in away
// mode. Power-off always passes.
func (g *Gateway) checkAwayMode(cmd Command) error {
	switch cmd.Kind {
	case KindSetTemperature:
	case KindSetPower:
		if !*cmd.Params.On {
			return nil
		}
	default:
		return nil
	}

	snap := g.cache.Snapshot()
	if snap.Settings.Side(cmd.Side).Away.Active {
		return &AwayModeBlockedError{Side: cmd.Side, Kind: cmd.Kind}
	}
	return nil
}

// dispatch performs the pod write and the optimistic merge for a validated
// command.
func (g *Gateway) dispatch(ctx context.Context, cmd Command) error {
	p := cmd.Params
	side := cmd.Side

	switch cmd.Kind {
	case KindSetTemperature:
		target := *p.TemperatureF
		var update StatusUpdate
		update.SetSide(side, SideStatusUpdate{TargetTemperatureF: &target})
		if err := g.client.UpdateStatus(ctx, update); err != nil {
			return err
		}
		g.cache.ApplyOptimistic(device.CategoryStatus, func(s *device.Snapshot) {
			s.Status.Side(side).TargetTemperatureF = target
		})

	case KindSetPower:
		on := *p.On
		var update StatusUpdate
		update.SetSide(side, SideStatusUpdate{IsOn: &on})
		if err := g.client.UpdateStatus(ctx, update); err != nil {
			return err
		}
		g.cache.ApplyOptimistic(device.CategoryStatus, func(s *device.Snapshot) {
			s.Status.Side(side).IsOn = on
		})

	case KindSetBasePosition:
		return g.moveBase(ctx, *p.Head, *p.Feet, p.FeedRate)

	case KindApplyPreset:
		head, feet, _ := device.PresetAngles(p.Preset)
		return g.moveBase(ctx, head, feet, p.FeedRate)

	case KindOpenBase:
		head, feet, _ := device.PresetAngles(device.PresetRelax)
		return g.moveBase(ctx, head, feet, p.FeedRate)

	case KindCloseBase:
		if err := g.client.SetBasePreset(ctx, device.PresetFlat); err != nil {
			return err
		}
		head, feet, _ := device.PresetAngles(device.PresetFlat)
		g.cache.ApplyOptimistic(device.CategoryBase, func(s *device.Snapshot) {
			s.Base.HeadAngle = float64(head)
			s.Base.FeetAngle = float64(feet)
			s.Base.IsMoving = true
		})

	case KindStopBase:
		// Re-send the last polled position; HeadAngle/FeetAngle may already
		// hold the target of a move still in progress.
		snap := g.cache.Snapshot()
		confirmedHead, confirmedFeet := snap.Base.ConfirmedHeadAngle, snap.Base.ConfirmedFeetAngle
		head := int(math.Round(device.ClampHead(confirmedHead)))
		feet := int(math.Round(device.ClampFeet(confirmedFeet)))
		if err := g.client.SetBasePosition(ctx, head, feet, snap.Base.FeedRate); err != nil {
			return err
		}
		g.cache.ApplyOptimistic(device.CategoryBase, func(s *device.Snapshot) {
			s.Base.HeadAngle = confirmedHead
			s.Base.FeetAngle = confirmedFeet
			s.Base.IsMoving = false
		})

	case KindSetSchedule:
		update := ScheduleUpdate{side: {p.Day: p.Schedule}}
		if err := g.client.UpdateSchedules(ctx, update); err != nil {
			return err
		}
		g.reloader.RequestSettingsReload()

	case KindSetAlarm:
		alarm, err := json.Marshal(map[string]json.RawMessage{"alarm": p.Alarm})
		if err != nil {
			return &ValidationError{Field: "alarm", Reason: err.Error()}
		}
		update := ScheduleUpdate{side: {p.Day: alarm}}
		if err := g.client.UpdateSchedules(ctx, update); err != nil {
			return err
		}
		g.reloader.RequestSettingsReload()

	case KindEnableAwayMode:
		return g.setAwayMode(ctx, side, true, p)

	case KindDisableAwayMode:
		return g.setAwayMode(ctx, side, false, p)

	case KindPrimePod:
		priming := true
		if err := g.client.UpdateStatus(ctx, StatusUpdate{IsPriming: &priming}); err != nil {
			return err
		}
		g.cache.ApplyOptimistic(device.CategoryStatus, func(s *device.Snapshot) {
			s.Status.IsPriming = true
		})

	case KindSetLEDBrightness:
		brightness := *p.Brightness
		update := StatusUpdate{Settings: &StatusSettingsUpdate{LEDBrightness: &brightness}}
		if err := g.client.UpdateStatus(ctx, update); err != nil {
			return err
		}
		g.cache.ApplyOptimistic(device.CategoryStatus, func(s *device.Snapshot) {
			s.Status.LEDBrightness = &brightness
		})

	case KindSetLinkSides:
		linked := *p.Linked
		if err := g.client.UpdateSettings(ctx, SettingsUpdate{LinkBothSides: &linked}); err != nil {
			return err
		}
		g.cache.ApplyOptimistic(device.CategorySettings, func(s *device.Snapshot) {
			s.Settings.LinkBothSides = linked
		})
		g.reloader.RequestSettingsReload()

	case KindSnoozeAlarm:
		if err := g.client.SnoozeAlarm(ctx, side); err != nil {
			return err
		}
		g.cache.ApplyOptimistic(device.CategoryStatus, func(s *device.Snapshot) {
			s.Status.Side(side).IsAlarmVibrating = false
		})

	case KindDismissPrimeNotification:
		if err := g.client.DismissPrimeNotification(ctx); err != nil {
			return err
		}
		g.cache.ApplyOptimistic(device.CategoryStatus, func(s *device.Snapshot) {
			s.Status.PrimeCompletedNotification = false
		})

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}
	return nil
}

// moveBase writes a base position and merges the requested angles. A missing
// feed rate reuses the last one requested.
func (g *Gateway) moveBase(ctx context.Context, head, feet int, feedRate *int) error {
	rate := g.cache.Snapshot().Base.FeedRate
	if feedRate != nil {
		rate = *feedRate
	}
	if rate < MinFeedRate || rate > MaxFeedRate {
		rate = device.DefaultFeedRate
	}

	if err := g.client.SetBasePosition(ctx, head, feet, rate); err != nil {
		return err
	}
	g.cache.ApplyOptimistic(device.CategoryBase, func(s *device.Snapshot) {
		s.Base.HeadAngle = float64(head)
		s.Base.FeetAngle = float64(feet)
		s.Base.FeedRate = rate
		s.Base.IsMoving = true
	})
	return nil
}

// setAwayMode writes one side's away state. Disabling sends null dates.
func (g *Gateway) setAwayMode(ctx context.Context, side device.Side, active bool, p Params) error {
	var (
		start, end       *time.Time
		startStr, endStr *string
	)
	if active {
		var err error
		if start, end, err = p.awayDates(); err != nil {
			return err
		}
		if p.AwayStart != "" {
			startStr = &p.AwayStart
		}
		if p.AwayReturn != "" {
			endStr = &p.AwayReturn
		}
	}

	var update SettingsUpdate
	update.SetSide(side, SideSettingsUpdate{AwayMode: active, AwayStart: startStr, AwayReturn: endStr})
	if err := g.client.UpdateSettings(ctx, update); err != nil {
		return err
	}

	g.cache.ApplyOptimistic(device.CategorySettings, func(s *device.Snapshot) {
		s.Settings.Side(side).Away = device.AwayMode{Active: active, Start: start, End: end}
	})
	g.reloader.RequestSettingsReload()
	return nil
}

func (g *Gateway) newRecord(cmd Command, start time.Time, err error) Record {
	params, marshalErr := json.Marshal(cmd.Params)
	if marshalErr != nil {
		params = []byte("{}")
	}

	rec := Record{
		ID:        cmd.ID,
		PodID:     g.podID,
		Kind:      cmd.Kind,
		Side:      cmd.Side,
		Params:    params,
		Source:    cmd.Source,
		Outcome:   OutcomeSuccess,
		Duration:  g.now().Sub(start),
		CreatedAt: start.UTC(),
	}
	if err != nil {
		rec.Outcome = outcomeFor(err)
		rec.ErrorCode = ErrorCode(err)
		rec.ErrorMessage = err.Error()
	}
	return rec
}

// appendLog persists a record. It outlives a cancelled caller context.
func (g *Gateway) appendLog(ctx context.Context, rec Record) {
	if g.commandLog == nil {
		return
	}
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commandLogTimeout)
	defer cancel()

	if err := g.commandLog.Append(logCtx, rec); err != nil {
		g.logError("failed to append command log", err, "command_id", rec.ID)
	}
}

// outcomeFor separates commands refused before reaching the pod from those
// the pod or the network failed.
func outcomeFor(err error) string {
	var (
		validationErr *ValidationError
		awayErr       *AwayModeBlockedError
	)
	if errors.As(err, &validationErr) || errors.As(err, &awayErr) ||
		errors.Is(err, ErrUnknownCommand) || errors.Is(err, ErrStopped) {
		return OutcomeRejected
	}
	return OutcomeFailed
}

// SetTemperature sets a side's target temperature in °F.
func (g *Gateway) SetTemperature(ctx context.Context, side device.Side, temperatureF int) error {
	_, err := g.Execute(ctx, Command{Kind: KindSetTemperature, Side: side, Params: Params{TemperatureF: &temperatureF}})
	return err
}

// SetPower switches a side on or off.
func (g *Gateway) SetPower(ctx context.Context, side device.Side, on bool) error {
	_, err := g.Execute(ctx, Command{Kind: KindSetPower, Side: side, Params: Params{On: &on}})
	return err
}

// SetBasePosition moves the base. feedRate may be nil.
func (g *Gateway) SetBasePosition(ctx context.Context, head, feet int, feedRate *int) error {
	_, err := g.Execute(ctx, Command{Kind: KindSetBasePosition, Params: Params{Head: &head, Feet: &feet, FeedRate: feedRate}})
	return err
}

// ApplyPreset moves the base to a named preset.
func (g *Gateway) ApplyPreset(ctx context.Context, preset device.Preset) error {
	_, err := g.Execute(ctx, Command{Kind: KindApplyPreset, Params: Params{Preset: preset}})
	return err
}

// StopBase halts base movement.
func (g *Gateway) StopBase(ctx context.Context) error {
	_, err := g.Execute(ctx, Command{Kind: KindStopBase})
	return err
}

// SetSchedule replaces one side's schedule for a weekday.
func (g *Gateway) SetSchedule(ctx context.Context, side device.Side, day string, schedule json.RawMessage) error {
	_, err := g.Execute(ctx, Command{Kind: KindSetSchedule, Side: side, Params: Params{Day: day, Schedule: schedule}})
	return err
}

// SetAlarm replaces one side's alarm for a weekday.
func (g *Gateway) SetAlarm(ctx context.Context, side device.Side, day string, alarm json.RawMessage) error {
	_, err := g.Execute(ctx, Command{Kind: KindSetAlarm, Side: side, Params: Params{Day: day, Alarm: alarm}})
	return err
}

// EnableAwayMode puts a side into away mode. Dates are optional.
func (g *Gateway) EnableAwayMode(ctx context.Context, side device.Side, start, end string) error {
	_, err := g.Execute(ctx, Command{Kind: KindEnableAwayMode, Side: side, Params: Params{AwayStart: start, AwayReturn: end}})
	return err
}

// DisableAwayMode takes a side out of away mode.
func (g *Gateway) DisableAwayMode(ctx context.Context, side device.Side) error {
	_, err := g.Execute(ctx, Command{Kind: KindDisableAwayMode, Side: side})
	return err
}

// PrimePod starts a priming cycle.
func (g *Gateway) PrimePod(ctx context.Context) error {
	_, err := g.Execute(ctx, Command{Kind: KindPrimePod})
	return err
}
