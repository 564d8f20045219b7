package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"smartgarden/internal/automation"
	"smartgarden/internal/cooldown"
	"smartgarden/internal/models"
	"smartgarden/internal/telemetry"
)

// Monday 2 June 2025
var monday6 = time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu       sync.Mutex
	controls map[string]*models.Control
	history  map[string][]models.ExecutionRecord
	tz       map[string]string
	failList bool
	failSave bool
}

func newFakeStore(controls ...*models.Control) *fakeStore {
	s := &fakeStore{
		controls: make(map[string]*models.Control),
		history:  make(map[string][]models.ExecutionRecord),
		tz:       make(map[string]string),
	}
	for _, c := range controls {
		s.controls[c.ID] = clone(c)
	}
	return s
}

func clone(c *models.Control) *models.Control {
	b, _ := json.Marshal(c)
	var out models.Control
	_ = json.Unmarshal(b, &out)
	return &out
}

func (s *fakeStore) get(id string) *models.Control {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.controls[id])
}

func (s *fakeStore) GetControl(_ context.Context, id string) (*models.Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controls[id]
	if !ok || !c.IsActive {
		return nil, ErrControlNotFound
	}
	return clone(c), nil
}

func (s *fakeStore) ListControls(_ context.Context, q Query) ([]*models.Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, errors.New("connection refused")
	}
	var out []*models.Control
	for _, c := range s.controls {
		if q.DeviceID != "" && c.DeviceID != q.DeviceID {
			continue
		}
		if q.Mode != "" && c.Mode != q.Mode {
			continue
		}
		if q.ActiveOnly && !c.IsActive {
			continue
		}
		if q.AlertsEnabled && !c.Alert.Enabled {
			continue
		}
		out = append(out, clone(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) ListExpired(_ context.Context, now time.Time) ([]*models.Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Control
	for _, c := range s.controls {
		if c.IsActive && c.Status == models.StatusActive && c.Manual.EndTime != nil && !c.Manual.EndTime.After(now) {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

func (s *fakeStore) SaveTransition(_ context.Context, c *models.Control, rec *models.ExecutionRecord, requireActive bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return false, errors.New("connection reset")
	}
	stored, ok := s.controls[c.ID]
	if !ok {
		return false, ErrControlNotFound
	}
	if requireActive && stored.Status != models.StatusActive {
		return false, nil
	}
	stored.Status = c.Status
	stored.CurrentState = c.CurrentState
	stored.Manual = c.Manual
	if rec != nil {
		stored.ExecutionHistory = append(stored.ExecutionHistory, *rec)
		s.history[c.ID] = append(s.history[c.ID], *rec)
	}
	return true, nil
}

func (s *fakeStore) CreateControl(_ context.Context, c *models.Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls[c.ID] = clone(c)
	return nil
}

func (s *fakeStore) UpdateControl(_ context.Context, c *models.Control, rec *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.controls[c.ID]; !ok {
		return ErrControlNotFound
	}
	s.controls[c.ID] = clone(c)
	if rec != nil {
		s.history[c.ID] = append(s.history[c.ID], *rec)
	}
	return nil
}

func (s *fakeStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controls[id]
	if !ok {
		return ErrControlNotFound
	}
	c.IsActive = false
	return nil
}

func (s *fakeStore) History(_ context.Context, id string, limit, offset int) ([]models.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[id]
	var out []models.ExecutionRecord
	for i := len(h) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

func (s *fakeStore) DeviceTimezone(_ context.Context, deviceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tz[deviceID], nil
}

type recordingDispatcher struct {
	mu      sync.Mutex
	intents []automation.Intent
}

func (d *recordingDispatcher) Dispatch(intents ...automation.Intent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.intents = append(d.intents, intents...)
}

func (d *recordingDispatcher) actuations(action string) []automation.Actuation {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []automation.Actuation
	for _, i := range d.intents {
		if a, ok := i.(automation.Actuation); ok && (action == "" || a.Action == action) {
			out = append(out, a)
		}
	}
	return out
}

func (d *recordingDispatcher) notifications() []automation.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []automation.Notification
	for _, i := range d.intents {
		if n, ok := i.(automation.Notification); ok {
			out = append(out, n)
		}
	}
	return out
}

type recordingDeferrer struct {
	mu   sync.Mutex
	offs []automation.DeferredOff
}

func (d *recordingDeferrer) ScheduleOff(_ context.Context, off automation.DeferredOff) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offs = append(d.offs, off)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	engine   *Engine
	store    *fakeStore
	dispatch *recordingDispatcher
	deferrer *recordingDeferrer
	clock    *clock
	cache    *cooldown.MemoryCache
}

func newHarness(controls ...*models.Control) *harness {
	h := &harness{
		store:    newFakeStore(controls...),
		dispatch: &recordingDispatcher{},
		deferrer: &recordingDeferrer{},
		clock:    &clock{now: monday6},
		cache:    cooldown.NewMemoryCache(),
	}
	h.engine = NewEngine(h.store, telemetry.NewMemorySource(), h.cache, h.dispatch,
		WithClock(h.clock.Now),
		WithDeferrer(h.deferrer),
	)
	return h
}

func thresholdControl() *models.Control {
	return &models.Control{
		ID:          "ctl-fan",
		DeviceID:    "esp-1",
		UserID:      "user-1",
		ControlType: models.ControlFan,
		Mode:        models.ModeThreshold,
		Status:      models.StatusInactive,
		IsActive:    true,
		Threshold: models.ThresholdSettings{
			Conditions: []models.ThresholdCondition{{
				ID: "cond-1", SensorType: "temperature", Operator: models.OpGreater, Value: 30,
				Action: &models.ThresholdAction{Intensity: 80, Duration: 10},
			}},
			Notifications: models.NotificationSettings{Enabled: true, Methods: []models.NotificationMethod{models.NotifyRealtime}},
		},
	}
}

func scheduledControl() *models.Control {
	return &models.Control{
		ID:          "ctl-water",
		DeviceID:    "esp-1",
		UserID:      "user-1",
		ControlType: models.ControlIrrigation,
		Mode:        models.ModeScheduled,
		Status:      models.StatusInactive,
		IsActive:    true,
		Schedule: models.ScheduleSettings{Enabled: true, Schedules: []models.Schedule{{
			Name: "morning", Time: "06:00", Days: []string{"monday"}, Intensity: 100, Duration: 30, IsActive: true,
		}}},
	}
}

// Scenario A and B through the pull path
func TestHeartbeatThresholdCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(thresholdControl())

	controls, err := h.engine.HandleHeartbeat(ctx, "esp-1", models.SensorSnapshot{"temperature": 35})
	if err != nil {
		t.Fatal(err)
	}
	if len(controls) != 1 || controls[0].Status != models.StatusActive {
		t.Fatalf("heartbeat returned %+v", controls)
	}
	on := h.dispatch.actuations("on")
	if len(on) != 1 || on[0].Intensity != 80 {
		t.Errorf("actuations %+v", on)
	}
	if n := h.dispatch.notifications(); len(n) != 1 {
		t.Errorf("got %d notifications", len(n))
	}
	if len(h.deferrer.offs) != 1 || !h.deferrer.offs[0].At.Equal(monday6.Add(10*time.Minute)) {
		t.Errorf("deferred offs %+v", h.deferrer.offs)
	}

	h.clock.Set(monday6.Add(2 * time.Minute))
	rep, err := h.engine.EvaluateDevice(ctx, "esp-1", models.SensorSnapshot{"temperature": 36}, TriggerPull)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Suppressed != 1 || rep.Fired != 0 {
		t.Errorf("report %+v", rep)
	}
	if n := h.dispatch.notifications(); len(n) != 1 {
		t.Errorf("duplicate notification: %d", len(n))
	}
	if got := h.store.get("ctl-fan"); len(got.ExecutionHistory) != 1 {
		t.Errorf("history has %d entries", len(got.ExecutionHistory))
	}
}

func TestPullAndPushShareCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(thresholdControl())

	if err := h.engine.HandleTelemetry(ctx, "esp-1", []byte(`{"temperature":35}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.HandleHeartbeat(ctx, "esp-1", models.SensorSnapshot{"humidity": 40}); err != nil {
		t.Fatal(err)
	}
	if on := h.dispatch.actuations("on"); len(on) != 1 {
		t.Errorf("got %d activations across both paths", len(on))
	}
}

func TestFailedCommitHoldsCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(thresholdControl())
	hot := models.SensorSnapshot{"temperature": 35}

	h.store.failSave = true
	rep, err := h.engine.EvaluateDevice(ctx, "esp-1", hot, TriggerPull)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Fired != 0 || len(h.dispatch.intents) != 0 {
		t.Fatalf("report %+v intents %+v", rep, h.dispatch.intents)
	}

	// the key was recorded before the write, so the rule waits out the window
	h.store.failSave = false
	h.clock.Set(monday6.Add(time.Minute))
	rep, _ = h.engine.EvaluateDevice(ctx, "esp-1", hot, TriggerPull)
	if rep.Suppressed != 1 || rep.Fired != 0 {
		t.Errorf("report %+v", rep)
	}

	h.clock.Set(monday6.Add(cooldown.DefaultWindow + time.Second))
	rep, _ = h.engine.EvaluateDevice(ctx, "esp-1", hot, TriggerPull)
	if rep.Fired != 1 {
		t.Errorf("report %+v", rep)
	}
	if on := h.dispatch.actuations("on"); len(on) != 1 {
		t.Errorf("got %d activations", len(on))
	}
}

func TestPausedThresholdControlIgnored(t *testing.T) {
	ctx := context.Background()
	for _, st := range []models.Status{models.StatusPaused, models.StatusError} {
		c := thresholdControl()
		c.Status = st
		limit := 30.0
		c.Alert = models.AlertSettings{Enabled: true, Sensor: "temperature", ConditionType: models.AlertAbove, MaxValue: &limit}
		h := newHarness(c)

		rep, err := h.engine.EvaluateDevice(ctx, "esp-1", models.SensorSnapshot{"temperature": 40}, TriggerPull)
		if err != nil {
			t.Fatal(err)
		}
		if rep.Evaluated != 0 || rep.Matched != 0 {
			t.Errorf("%s: report %+v", st, rep)
		}
		if len(h.dispatch.intents) != 0 {
			t.Errorf("%s: intents %+v", st, h.dispatch.intents)
		}
		if _, found, _ := h.cache.Last(ctx, cooldown.Key{DeviceID: "esp-1", SensorType: "temperature", RuleID: "cond-1"}); found {
			t.Errorf("%s: cooldown key recorded", st)
		}
	}
}

func TestConcurrentEvaluationFiresOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(thresholdControl())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.engine.EvaluateDevice(ctx, "esp-1", models.SensorSnapshot{"temperature": 40}, TriggerPush)
		}()
	}
	wg.Wait()
	if n := h.dispatch.notifications(); len(n) != 1 {
		t.Errorf("got %d notifications", len(n))
	}
}

// Scenario C
func TestTickScheduleAndAutoOff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(scheduledControl())

	if err := h.engine.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if on := h.dispatch.actuations("on"); len(on) != 1 || on[0].Intensity != 100 {
		t.Fatalf("actuations %+v", on)
	}
	if len(h.deferrer.offs) != 1 {
		t.Fatalf("deferred offs %+v", h.deferrer.offs)
	}

	h.clock.Set(monday6.Add(time.Minute))
	if err := h.engine.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if on := h.dispatch.actuations("on"); len(on) != 1 {
		t.Errorf("schedule fired again: %d", len(on))
	}

	h.clock.Set(h.deferrer.offs[0].At)
	if err := h.engine.AutoOff(ctx, h.deferrer.offs[0]); err != nil {
		t.Fatal(err)
	}
	if off := h.dispatch.actuations("off"); len(off) != 1 {
		t.Errorf("got %d off actuations", len(off))
	}
	got := h.store.get("ctl-water")
	if got.Status != models.StatusInactive || got.CurrentState.TotalRuntime != 30 {
		t.Errorf("status %s runtime %d", got.Status, got.CurrentState.TotalRuntime)
	}

	// the sweep at the same minute finds nothing left to do
	if err := h.engine.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if got := h.store.get("ctl-water"); len(got.ExecutionHistory) != 2 {
		t.Errorf("history has %d entries", len(got.ExecutionHistory))
	}
}

func TestAutoOffOnInactiveControlSendsRedundantOff(t *testing.T) {
	h := newHarness(scheduledControl())
	off := automation.DeferredOff{ControlID: "ctl-water", DeviceID: "esp-1", ControlType: models.ControlIrrigation, At: monday6}
	if err := h.engine.AutoOff(context.Background(), off); err != nil {
		t.Fatal(err)
	}
	if got := h.dispatch.actuations("off"); len(got) != 1 {
		t.Errorf("got %d off actuations", len(got))
	}
	if got := h.store.get("ctl-water"); len(got.ExecutionHistory) != 0 {
		t.Error("redundant off wrote history")
	}
}

func TestAutoOffForDeletedControl(t *testing.T) {
	h := newHarness()
	if err := h.engine.AutoOff(context.Background(), automation.DeferredOff{ControlID: "gone"}); err != nil {
		t.Errorf("got %v", err)
	}
}

// Scenario D
func TestSweepDeactivatesOnce(t *testing.T) {
	ctx := context.Background()
	c := thresholdControl()
	started := monday6.Add(-45 * time.Minute)
	end := monday6.Add(-time.Second)
	c.Status = models.StatusActive
	c.CurrentState = models.CurrentState{IsOn: true, Intensity: 50, LastActivated: &started, TotalRuntime: 100}
	c.Manual.EndTime = &end
	h := newHarness(c)

	if err := h.engine.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	got := h.store.get("ctl-fan")
	if got.Status != models.StatusInactive || got.CurrentState.TotalRuntime != 145 {
		t.Errorf("status %s runtime %d", got.Status, got.CurrentState.TotalRuntime)
	}
	if len(got.ExecutionHistory) != 1 || got.ExecutionHistory[0].TriggeredBy != models.TriggerAutoTimeout {
		t.Errorf("history %+v", got.ExecutionHistory)
	}

	if err := h.engine.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if got := h.store.get("ctl-fan"); len(got.ExecutionHistory) != 1 {
		t.Errorf("second sweep appended history: %d", len(got.ExecutionHistory))
	}
	if off := h.dispatch.actuations("off"); len(off) != 1 {
		t.Errorf("got %d off actuations", len(off))
	}
}

type racingStore struct {
	*fakeStore
}

// ListExpired hands out a stale copy, then the control is switched off
// before the sweep writes
func (s racingStore) ListExpired(ctx context.Context, now time.Time) ([]*models.Control, error) {
	out, err := s.fakeStore.ListExpired(ctx, now)
	s.mu.Lock()
	for _, c := range s.controls {
		c.Status = models.StatusInactive
	}
	s.mu.Unlock()
	return out, err
}

func TestSweepLosesRaceSilently(t *testing.T) {
	c := thresholdControl()
	end := monday6.Add(-time.Minute)
	started := monday6.Add(-time.Hour)
	c.Status = models.StatusActive
	c.CurrentState = models.CurrentState{IsOn: true, LastActivated: &started}
	c.Manual.EndTime = &end

	store := racingStore{newFakeStore(c)}
	dispatch := &recordingDispatcher{}
	e := NewEngine(store, telemetry.NewMemorySource(), cooldown.NewMemoryCache(), dispatch,
		WithClock(func() time.Time { return monday6 }), WithDeferrer(&recordingDeferrer{}))

	if err := e.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(dispatch.intents) != 0 {
		t.Errorf("lost race still dispatched %d intents", len(dispatch.intents))
	}
	if got := store.get("ctl-fan"); len(got.ExecutionHistory) != 0 {
		t.Error("lost race wrote history")
	}
}

func TestTickStoreFailure(t *testing.T) {
	h := newHarness(scheduledControl())
	h.store.failList = true
	if err := h.engine.Tick(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("got %v", err)
	}
}

func TestTickUsesDeviceTimezone(t *testing.T) {
	h := newHarness(scheduledControl())
	h.store.tz["esp-1"] = "Asia/Ho_Chi_Minh"

	if err := h.engine.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if on := h.dispatch.actuations("on"); len(on) != 0 {
		t.Error("fired at 13:00 local time")
	}

	h.engine.ForgetLocation("esp-1")
	h.clock.Set(monday6.Add(-7 * time.Hour))
	if err := h.engine.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if on := h.dispatch.actuations("on"); len(on) != 1 {
		t.Error("did not fire at 06:00 local time")
	}
}

func TestManualCommands(t *testing.T) {
	ctx := context.Background()
	h := newHarness(thresholdControl())

	if _, err := h.engine.ActivateManual(ctx, "ctl-fan", "someone-else", 50, 0); !errors.Is(err, ErrControlNotFound) {
		t.Errorf("foreign activation: %v", err)
	}
	if _, err := h.engine.ActivateManual(ctx, "ctl-fan", "user-1", 150, 0); !errors.Is(err, models.ErrInvalidControl) {
		t.Errorf("out of range intensity: %v", err)
	}

	c, err := h.engine.ActivateManual(ctx, "ctl-fan", "user-1", 60, 15)
	if err != nil {
		t.Fatal(err)
	}
	if c.Manual.EndTime == nil || !c.Manual.EndTime.Equal(monday6.Add(15*time.Minute)) {
		t.Errorf("endTime %v", c.Manual.EndTime)
	}

	h.clock.Set(monday6.Add(5 * time.Minute))
	c, err = h.engine.DeactivateManual(ctx, "ctl-fan", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if c.CurrentState.TotalRuntime != 5 {
		t.Errorf("totalRuntime %d", c.CurrentState.TotalRuntime)
	}
	if _, err := h.engine.DeactivateManual(ctx, "ctl-fan", "user-1"); err != nil {
		t.Errorf("second deactivation: %v", err)
	}
	if got := h.store.get("ctl-fan"); len(got.ExecutionHistory) != 2 {
		t.Errorf("history has %d entries", len(got.ExecutionHistory))
	}

	recs, err := h.engine.History(ctx, "ctl-fan", "user-1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Action != models.ActionDeactivated {
		t.Errorf("history page %+v", recs)
	}
}

func TestPausedControlRejectsCommands(t *testing.T) {
	c := thresholdControl()
	c.Status = models.StatusPaused
	h := newHarness(c)
	if _, err := h.engine.ActivateManual(context.Background(), "ctl-fan", "user-1", 50, 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("got %v", err)
	}
	if _, err := h.engine.HandleHeartbeat(context.Background(), "esp-1", models.SensorSnapshot{"temperature": 50}); err != nil {
		t.Fatal(err)
	}
	if on := h.dispatch.actuations("on"); len(on) != 0 {
		t.Error("threshold activated a paused control")
	}
}

func TestControlLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	in := thresholdControl()
	in.Threshold.Conditions[0].ID = ""
	c, err := h.engine.CreateControl(ctx, "user-1", in)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID == "" || c.Threshold.Conditions[0].ID == "" || c.Status != models.StatusInactive {
		t.Errorf("created %+v", c)
	}

	bad := clone(c)
	bad.Threshold.Conditions[0].Operator = "=~"
	if _, err := h.engine.UpdateControl(ctx, c.ID, "user-1", bad); !errors.Is(err, models.ErrInvalidControl) {
		t.Errorf("invalid update: %v", err)
	}

	upd := clone(c)
	upd.Threshold.Conditions[0].Value = 25
	got, err := h.engine.UpdateControl(ctx, c.ID, "user-1", upd)
	if err != nil {
		t.Fatal(err)
	}
	if got.Threshold.Conditions[0].Value != 25 {
		t.Errorf("update not applied")
	}
	if last := got.ExecutionHistory[len(got.ExecutionHistory)-1]; last.Action != models.ActionUpdated {
		t.Errorf("last record %+v", last)
	}

	if err := h.engine.DeleteControl(ctx, c.ID, "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.HandleHeartbeat(ctx, "esp-1", models.SensorSnapshot{"temperature": 50}); err != nil {
		t.Fatal(err)
	}
	if on := h.dispatch.actuations("on"); len(on) != 0 {
		t.Error("deleted control still evaluated")
	}
}

type queueRecorder struct{ devices []string }

func (q *queueRecorder) EnqueueEvaluation(_ context.Context, deviceID string) error {
	q.devices = append(q.devices, deviceID)
	return nil
}

func TestTelemetryViaQueue(t *testing.T) {
	q := &queueRecorder{}
	src := telemetry.NewMemorySource()
	dispatch := &recordingDispatcher{}
	store := newFakeStore(thresholdControl())
	e := NewEngine(store, src, cooldown.NewMemoryCache(), dispatch,
		WithClock(func() time.Time { return monday6 }), WithDeferrer(&recordingDeferrer{}), WithEvaluationQueue(q))

	ctx := context.Background()
	if err := e.HandleTelemetry(ctx, "esp-1", []byte(`{"temperature":33}`)); err != nil {
		t.Fatal(err)
	}
	if len(q.devices) != 1 || len(dispatch.intents) != 0 {
		t.Fatalf("queued %v dispatched %d", q.devices, len(dispatch.intents))
	}
	if err := e.EvaluateStored(ctx, "esp-1"); err != nil {
		t.Fatal(err)
	}
	if on := dispatch.actuations("on"); len(on) != 1 {
		t.Errorf("got %d activations", len(on))
	}
	if err := e.HandleTelemetry(ctx, "esp-1", []byte(`{broken`)); err == nil {
		t.Error("malformed telemetry accepted")
	}
}

func TestTimerDeferrer(t *testing.T) {
	fired := make(chan automation.DeferredOff, 4)
	d := NewTimerDeferrer(func(_ context.Context, off automation.DeferredOff) error {
		fired <- off
		return nil
	})
	defer d.Stop()

	now := time.Now()
	due := now.Add(-time.Second)
	_ = d.ScheduleOff(context.Background(), automation.DeferredOff{ControlID: "a", At: now.Add(time.Hour)})
	_ = d.ScheduleOff(context.Background(), automation.DeferredOff{ControlID: "b", At: now.Add(time.Hour)})
	_ = d.ScheduleOff(context.Background(), automation.DeferredOff{ControlID: "b", At: now.Add(time.Hour)})
	if d.Pending() != 2 {
		t.Errorf("pending %d, want 2", d.Pending())
	}

	_ = d.ScheduleOff(context.Background(), automation.DeferredOff{ControlID: "a", At: due})
	select {
	case off := <-fired:
		if off.ControlID != "a" || !off.At.Equal(due) {
			t.Errorf("fired %+v", off)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("overdue off did not fire")
	}
	select {
	case off := <-fired:
		t.Errorf("unexpected fire %+v", off)
	case <-time.After(50 * time.Millisecond):
	}
	// both later offs stay armed
	if d.Pending() != 2 {
		t.Errorf("pending %d, want 2", d.Pending())
	}
}

func TestTimerDeferrerReplacesSameDeadline(t *testing.T) {
	fired := make(chan automation.DeferredOff, 4)
	d := NewTimerDeferrer(func(_ context.Context, off automation.DeferredOff) error {
		fired <- off
		return nil
	})
	defer d.Stop()

	at := time.Now().Add(20 * time.Millisecond)
	_ = d.ScheduleOff(context.Background(), automation.DeferredOff{ControlID: "a", At: at})
	_ = d.ScheduleOff(context.Background(), automation.DeferredOff{ControlID: "a", At: at})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("off did not fire")
	}
	select {
	case <-fired:
		t.Error("duplicate off fired")
	case <-time.After(100 * time.Millisecond):
	}
}
