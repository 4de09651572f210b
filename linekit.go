package linekit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/linekit/drivers"
	"github.com/hubertat/linekit/mqtt"
)

const serviceName = "linekit"
const defaultPinDocumentPath = "gpio_config.json"

// ErrNotConfigured marks operations on pins absent from the pin document.
var ErrNotConfigured = errors.New("pin not configured")

// ErrNotActive marks operations on configured pins whose line claim failed or
// was skipped.
var ErrNotActive = errors.New("pin not active")

// LineKit owns the claimed GPIO lines and everything running on top of them:
// the edge monitor, the sample collector, the HTTP API and the optional MQTT,
// InfluxDB and HomeKit surfaces. The public fields are the service
// configuration, unmarshalled straight from the config file.
type LineKit struct {
	Name            string
	PinDocumentPath string
	HTTPAddr        string
	HTTPTimeoutMs   int

	Gpiocdev   *drivers.GpiocdevIO
	Rpio       *drivers.RpIO
	Mcp23017   *drivers.McpIO
	FakeDriver *drivers.MockLineDriver

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker string

	Influx *InfluxPublisher

	QueueCapacity            int
	HistoryCapacity          int
	PollTimeoutMs            int
	SweepIntervalMs          int
	SampleIntervalSeconds    int
	SuperviseIntervalSeconds int

	mu       sync.RWMutex
	driver   drivers.LineDriver
	registry *LineRegistry
	lines    map[int]*claimedLine
	doc      *PinDocument

	queue      *EventQueue
	history    *SampleHistory
	monitor    *EdgeMonitor
	collector  *SampleCollector
	supervisor *TaskSupervisor
	mqttClient *mqtt.Client
	logger     *log.Logger
	version    string
	startedAt  time.Time
}

type claimedLine struct {
	cfg  PinConfig
	line drivers.Line
}

type inputLine struct {
	pin  int
	line drivers.Line
}

// Setup opens the configured line driver, builds the queue, history and
// workers, then loads the pin document and claims its lines. An unreadable or
// invalid document is not fatal: the service comes up with no claimed lines
// and the document can be replaced over the API.
func (kit *LineKit) Setup(ctx context.Context, logger *log.Logger, version string) error {
	if logger == nil {
		logger = log.Default()
	}
	kit.logger = logger
	kit.version = version
	kit.startedAt = time.Now()

	if len(kit.PinDocumentPath) == 0 {
		kit.PinDocumentPath = defaultPinDocumentPath
	}

	driver, err := kit.pickDriver()
	if err != nil {
		return err
	}
	err = driver.Open(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s driver", driver)
	}
	kit.driver = driver

	kit.registry = NewLineRegistry()
	kit.lines = make(map[int]*claimedLine)
	kit.queue = NewEventQueue(kit.QueueCapacity, logger.WithPrefix("events"))
	kit.history = NewSampleHistory(kit.HistoryCapacity)

	kit.monitor = newEdgeMonitor(kit, kit.queue,
		time.Duration(kit.PollTimeoutMs)*time.Millisecond,
		time.Duration(kit.SweepIntervalMs)*time.Millisecond,
		logger.WithPrefix("monitor"))
	kit.collector = newSampleCollector(kit.history, nil,
		time.Duration(kit.SampleIntervalSeconds)*time.Second,
		logger.WithPrefix("collector"))

	if kit.Influx != nil {
		err = kit.Influx.setup(kit.name(), logger.WithPrefix("influx"))
		if err != nil {
			return errors.Wrap(err, "failed to setup influx publisher")
		}
		kit.collector.AddSink(kit.Influx)
	}

	kit.supervisor = NewTaskSupervisor(
		time.Duration(kit.SuperviseIntervalSeconds)*time.Second,
		logger.WithPrefix("supervisor"))
	kit.supervisor.Register(kit.monitor)
	kit.supervisor.Register(kit.collector)

	doc, err := kit.loadPinDocument()
	if err != nil {
		kit.logger.Error("cannot load pin document, starting with no claimed lines", "err", err)
		doc = &PinDocument{Pins: []PinConfig{}}
	} else if validationErr := ValidatePinDocument(doc); validationErr != nil {
		kit.logger.Error("pin document invalid, starting with no claimed lines", "err", validationErr)
		doc = &PinDocument{Pins: []PinConfig{}}
	}

	kit.mu.Lock()
	kit.doc = doc
	kit.initializeLocked()
	claimed := len(kit.lines)
	kit.mu.Unlock()

	kit.logger.Info("setup complete", "driver", driver.String(), "claimed_lines", claimed)

	return nil
}

// Supervise runs the worker supervision loop until ctx is cancelled.
func (kit *LineKit) Supervise(ctx context.Context) error {
	return kit.supervisor.Run(ctx)
}

// Shutdown stops the workers, releases every claimed line and closes the
// driver and the optional surfaces.
func (kit *LineKit) Shutdown() error {
	if kit.supervisor != nil {
		kit.supervisor.StopAll()
	}

	kit.mu.Lock()
	kit.releaseAllLocked()
	kit.mu.Unlock()

	var err error
	if kit.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		disconnectErr := kit.mqttClient.Disconnect(ctx)
		cancel()
		err = joinErrors(err, disconnectErr)
	}
	if kit.Influx != nil {
		kit.Influx.close()
	}
	if kit.driver != nil {
		err = joinErrors(err, kit.driver.Close())
	}

	if kit.logger != nil {
		kit.logger.Info("shutdown complete")
	}

	return err
}

// Value reads the current level of a claimed pin.
func (kit *LineKit) Value(pin int) (int, error) {
	claimed, err := kit.claimedPin(pin)
	if err != nil {
		return -1, err
	}
	value, err := claimed.line.Value()
	if err != nil {
		return -1, errors.Wrapf(err, "failed to read pin %d", pin)
	}

	return value, nil
}

// SetPin drives a claimed pin to the given level. Any positive value counts
// as high.
func (kit *LineKit) SetPin(pin, value int) error {
	claimed, err := kit.claimedPin(pin)
	if err != nil {
		return err
	}
	if value > 0 {
		value = 1
	} else {
		value = 0
	}

	return errors.Wrapf(claimed.line.SetValue(value), "failed to set pin %d", pin)
}

// TogglePin inverts a claimed pin and returns the level it was driven to.
// Concurrent toggles are not serialized against each other; the last write
// wins, as with plain sets.
func (kit *LineKit) TogglePin(pin int) (int, error) {
	claimed, err := kit.claimedPin(pin)
	if err != nil {
		return -1, err
	}
	current, err := claimed.line.Value()
	if err != nil {
		return -1, errors.Wrapf(err, "failed to read pin %d", pin)
	}
	target := 1
	if current > 0 {
		target = 0
	}
	err = claimed.line.SetValue(target)
	if err != nil {
		return -1, errors.Wrapf(err, "failed to set pin %d", pin)
	}

	return target, nil
}

// SetAll drives every claimed output to the given level and returns the pins
// that were set. Pins that fail are logged and skipped.
func (kit *LineKit) SetAll(value int) []int {
	kit.mu.RLock()
	pins := kit.registry.Pins()
	claimed := make([]*claimedLine, 0, len(pins))
	for _, pin := range pins {
		claimed = append(claimed, kit.lines[pin])
	}
	kit.mu.RUnlock()

	if value > 0 {
		value = 1
	} else {
		value = 0
	}

	set := []int{}
	for i, cl := range claimed {
		if cl == nil || cl.cfg.Direction != drivers.DirectionOutput {
			continue
		}
		err := cl.line.SetValue(value)
		if err != nil {
			kit.logger.Warn("failed to set pin", "pin", pins[i], "err", err)
			continue
		}
		set = append(set, pins[i])
	}

	return set
}

// PinStatus is one pin's configuration with its live state attached. Current
// is -1 when the pin is not claimed or cannot be read.
type PinStatus struct {
	PinConfig
	Active  bool `json:"active"`
	Current int  `json:"current_state"`
}

// PinStatuses reports every configured pin in document order.
func (kit *LineKit) PinStatuses() []PinStatus {
	kit.mu.RLock()
	doc := kit.doc
	claimedByPin := make(map[int]*claimedLine, len(kit.lines))
	for pin, claimed := range kit.lines {
		claimedByPin[pin] = claimed
	}
	kit.mu.RUnlock()

	statuses := make([]PinStatus, 0, len(doc.Pins))
	for _, pin := range doc.Pins {
		status := PinStatus{PinConfig: pin, Current: -1}
		claimed := claimedByPin[pin.Num]
		if claimed != nil {
			status.Active = true
			value, err := claimed.line.Value()
			if err != nil {
				kit.logger.Warn("failed to read pin", "pin", pin.Num, "err", err)
			} else {
				status.Current = value
			}
		}
		statuses = append(statuses, status)
	}

	return statuses
}

// CurrentDocument returns a copy of the live pin document.
func (kit *LineKit) CurrentDocument() *PinDocument {
	kit.mu.RLock()
	defer kit.mu.RUnlock()

	pins := make([]PinConfig, len(kit.doc.Pins))
	copy(pins, kit.doc.Pins)

	return &PinDocument{Pins: pins}
}

// UpdateDocument validates a candidate pin document and hot swaps it in: the
// edge monitor is stopped, all held lines are released, the document is
// persisted and its lines claimed fresh, then the monitor comes back. A
// document failing validation changes nothing.
func (kit *LineKit) UpdateDocument(ctx context.Context, doc *PinDocument) error {
	err := ValidatePinDocument(doc)
	if err != nil {
		return err
	}

	monitorRunning := kit.supervisor != nil && kit.supervisor.Started()
	if monitorRunning {
		stopErr := kit.supervisor.Stop(edgeMonitorName)
		if stopErr != nil {
			kit.logger.Warn("failed to stop edge monitor for reload", "err", stopErr)
		}
	}

	kit.mu.Lock()
	kit.releaseAllLocked()
	kit.doc = doc
	persistErr := savePinDocument(kit.PinDocumentPath, doc)
	if persistErr != nil {
		kit.logger.Error("failed to persist pin document", "err", persistErr)
	}
	kit.initializeLocked()
	claimed := len(kit.lines)
	kit.mu.Unlock()

	if monitorRunning {
		restartErr := kit.supervisor.Restart(ctx, edgeMonitorName)
		if restartErr != nil {
			kit.logger.Warn("failed to restart edge monitor after reload", "err", restartErr)
		}
	}

	kit.logger.Info("pin document updated", "claimed_lines", claimed)

	return errors.Wrap(persistErr, "pin document applied but not persisted")
}

// DrainEvents removes and returns all queued edge events, oldest first.
func (kit *LineKit) DrainEvents() []EdgeEvent {
	return kit.queue.Drain()
}

// SampleSnapshot returns the retained health samples, oldest first.
func (kit *LineKit) SampleSnapshot() []Sample {
	return kit.history.Snapshot()
}

// ActivePins returns the claimed pin numbers in ascending order.
func (kit *LineKit) ActivePins() []int {
	kit.mu.RLock()
	defer kit.mu.RUnlock()

	return kit.registry.Pins()
}

// ClaimedCount reports how many lines are currently claimed.
func (kit *LineKit) ClaimedCount() int {
	kit.mu.RLock()
	defer kit.mu.RUnlock()

	return len(kit.lines)
}

// Health is a point in time snapshot of the service internals.
type Health struct {
	ClaimedLines     int    `json:"claimed_lines"`
	EdgeMonitorAlive bool   `json:"edge_monitor_alive"`
	CollectorAlive   bool   `json:"collector_alive"`
	QueuedEvents     int    `json:"queued_events"`
	DroppedEvents    uint64 `json:"dropped_events"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Version          string `json:"version,omitempty"`
}

func (kit *LineKit) Health() Health {
	return Health{
		ClaimedLines:     kit.ClaimedCount(),
		EdgeMonitorAlive: kit.supervisor.Alive(edgeMonitorName),
		CollectorAlive:   kit.supervisor.Alive(sampleCollectorName),
		QueuedEvents:     kit.queue.Len(),
		DroppedEvents:    kit.queue.Dropped(),
		UptimeSeconds:    int64(time.Since(kit.startedAt).Seconds()),
		Version:          kit.version,
	}
}

func (kit *LineKit) name() string {
	if len(kit.Name) > 0 {
		return kit.Name
	}

	return serviceName
}

func (kit *LineKit) pickDriver() (drivers.LineDriver, error) {
	configured := []drivers.LineDriver{}
	if kit.Gpiocdev != nil {
		configured = append(configured, kit.Gpiocdev)
	}
	if kit.Rpio != nil {
		configured = append(configured, kit.Rpio)
	}
	if kit.Mcp23017 != nil {
		configured = append(configured, kit.Mcp23017)
	}
	if kit.FakeDriver != nil {
		configured = append(configured, kit.FakeDriver)
	}

	switch len(configured) {
	case 0:
		kit.Gpiocdev = &drivers.GpiocdevIO{}
		return kit.Gpiocdev, nil
	case 1:
		return configured[0], nil
	}

	names := make([]string, 0, len(configured))
	for _, driver := range configured {
		names = append(names, driver.String())
	}

	return nil, errors.Errorf("exactly one line driver may be configured, got: %s", strings.Join(names, ", "))
}

func (kit *LineKit) claimedPin(pin int) (*claimedLine, error) {
	kit.mu.RLock()
	defer kit.mu.RUnlock()

	claimed, found := kit.lines[pin]
	if found {
		return claimed, nil
	}
	if kit.pinConfiguredLocked(pin) {
		return nil, errors.Wrapf(ErrNotActive, "pin %d", pin)
	}

	return nil, errors.Wrapf(ErrNotConfigured, "pin %d", pin)
}

// pinConfiguredLocked reports whether the pin document mentions the pin.
// Caller holds kit.mu.
func (kit *LineKit) pinConfiguredLocked(pin int) bool {
	for _, cfg := range kit.doc.Pins {
		if cfg.Num == pin {
			return true
		}
	}

	return false
}

// inputLines snapshots the claimed inputs for one monitor sweep, in pin
// order.
func (kit *LineKit) inputLines() []inputLine {
	kit.mu.RLock()
	defer kit.mu.RUnlock()

	inputs := make([]inputLine, 0, len(kit.lines))
	for pin, claimed := range kit.lines {
		if claimed.cfg.Direction == drivers.DirectionInput {
			inputs = append(inputs, inputLine{pin: pin, line: claimed.line})
		}
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].pin < inputs[j].pin })

	return inputs
}

// initializeLocked claims every non disabled pin of the current document. A
// pin whose claim fails is logged and skipped; the others still come up.
// Caller holds kit.mu.
func (kit *LineKit) initializeLocked() {
	for _, pin := range kit.doc.Pins {
		if pin.Direction == drivers.DirectionDisabled {
			continue
		}
		line, err := kit.driver.Claim(drivers.LineRequest{
			Address:   pin.Address(),
			Direction: pin.Direction,
			Bias:      pin.Bias,
			Consumer:  fmt.Sprintf("%s-pin-%d", kit.name(), pin.Num),
		})
		if err != nil {
			kit.logger.Error("failed to claim line, skipping pin",
				"pin", pin.Num, "chip", pin.Chip, "line", pin.Line, "err", err)
			continue
		}
		err = kit.registry.Add(pin.Num, pin.Address())
		if err != nil {
			kit.logger.Error("failed to register claimed line", "pin", pin.Num, "err", err)
			releaseErr := line.Release()
			if releaseErr != nil {
				kit.logger.Warn("failed to release line", "pin", pin.Num, "err", releaseErr)
			}
			continue
		}
		kit.lines[pin.Num] = &claimedLine{cfg: pin, line: line}
		kit.logger.Info("line claimed",
			"pin", pin.Num, "chip", pin.Chip, "line", pin.Line, "direction", pin.Direction)
	}
}

// releaseAllLocked releases every held line once and clears the registry.
// Caller holds kit.mu.
func (kit *LineKit) releaseAllLocked() {
	for _, pin := range kit.registry.Pins() {
		claimed := kit.lines[pin]
		if claimed == nil {
			continue
		}
		err := claimed.line.Release()
		if err != nil {
			kit.logger.Warn("failed to release line", "pin", pin, "err", err)
		}
	}
	kit.registry = NewLineRegistry()
	kit.lines = make(map[int]*claimedLine)
}

func (kit *LineKit) loadPinDocument() (*PinDocument, error) {
	raw, err := os.ReadFile(kit.PinDocumentPath)
	if os.IsNotExist(err) {
		doc := DefaultPinDocument()
		kit.logger.Info("pin document not found, writing default template", "path", kit.PinDocumentPath)
		saveErr := savePinDocument(kit.PinDocumentPath, doc)
		if saveErr != nil {
			kit.logger.Warn("failed to write default pin document", "err", saveErr)
		}
		return doc, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read pin document %s", kit.PinDocumentPath)
	}

	doc := &PinDocument{}
	err = json.Unmarshal(raw, doc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse pin document %s", kit.PinDocumentPath)
	}

	return doc, nil
}

// savePinDocument writes the document to a temporary file and renames it over
// the target, so a crash mid write never leaves a torn document.
func savePinDocument(path string, doc *PinDocument) error {
	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal pin document")
	}

	tmp := path + ".tmp"
	err = os.WriteFile(tmp, buf, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}

	return errors.Wrapf(os.Rename(tmp, path), "failed to replace %s", path)
}

func joinErrors(err, next error) error {
	if next == nil {
		return err
	}
	if err == nil {
		return next
	}

	return errors.Wrap(err, next.Error())
}
