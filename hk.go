package linekit

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/brutella/hap/service"
	"github.com/pkg/errors"

	"github.com/hubertat/linekit/drivers"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeAuthor = "github.com/hubertat"
const hkSyncInterval = time.Second

// hkThing pairs one claimed pin with its HomeKit accessory. Outputs surface
// as switches, inputs as motion sensors.
type hkThing struct {
	pin    int
	output bool
	acc    *accessory.A
	sw     *service.Switch
	motion *service.MotionSensor
}

// StartHomeKit exposes the claimed pins as a HomeKit bridge and serves until
// ctx is cancelled. Accessories are built from the pins claimed at call time;
// pins added by a later document update appear after a restart.
func (kit *LineKit) StartHomeKit(ctx context.Context) error {
	if len(kit.HkPin) != 8 {
		return errors.Errorf("homekit pin must be 8 digits, got %d characters", len(kit.HkPin))
	}

	bridge := accessory.NewBridge(accessory.Info{
		Name:         kit.name(),
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     kit.version,
	})

	things := kit.hkThings()
	accs := make([]*accessory.A, 0, len(things))
	for _, thing := range things {
		accs = append(accs, thing.acc)
	}

	directory := kit.HkDirectory
	if len(directory) < 1 {
		directory = defaultHomeKitDirectory
	}
	store := hap.NewFsStore(directory)

	server, err := hap.NewServer(store, bridge.A, accs...)
	if err != nil {
		return errors.Wrap(err, "failed to create homekit server")
	}
	server.Pin = kit.HkPin
	if len(kit.HkAddress) > 0 {
		server.Addr = kit.HkAddress
	}

	if kit.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	go kit.syncHomeKit(ctx, things)

	kit.logger.Info("homekit bridge starting", "accessories", len(accs))

	return server.ListenAndServe(ctx)
}

func (kit *LineKit) hkThings() []*hkThing {
	kit.mu.RLock()
	defer kit.mu.RUnlock()

	things := make([]*hkThing, 0, len(kit.lines))
	for _, num := range kit.registry.Pins() {
		cfg := kit.lines[num].cfg
		name := cfg.Name
		if len(name) == 0 {
			name = fmt.Sprintf("Pin %d", cfg.Num)
		}

		switch cfg.Direction {
		case drivers.DirectionOutput:
			sw := accessory.NewSwitch(accessory.Info{
				Name:         name,
				SerialNumber: fmt.Sprintf("output:chip%d:line%d", cfg.Chip, cfg.Line),
			})
			sw.A.Id = hkUniqueId(cfg.Num)
			pin := cfg.Num
			sw.Switch.On.OnValueRemoteUpdate(func(on bool) {
				value := 0
				if on {
					value = 1
				}
				err := kit.SetPin(pin, value)
				if err != nil {
					kit.logger.Warn("homekit set failed", "pin", pin, "err", err)
				}
			})
			things = append(things, &hkThing{pin: cfg.Num, output: true, acc: sw.A, sw: sw.Switch})
		case drivers.DirectionInput:
			acc := accessory.New(accessory.Info{
				Name:         name,
				SerialNumber: fmt.Sprintf("input:chip%d:line%d", cfg.Chip, cfg.Line),
			}, accessory.TypeSensor)
			acc.Id = hkUniqueId(cfg.Num)
			motion := service.NewMotionSensor()
			acc.AddS(motion.S)
			things = append(things, &hkThing{pin: cfg.Num, acc: acc, motion: motion})
		}
	}

	return things
}

// syncHomeKit refreshes accessory values from the hardware. Pins that cannot
// be read, released by a reload for instance, are skipped.
func (kit *LineKit) syncHomeKit(ctx context.Context, things []*hkThing) {
	ticker := time.NewTicker(hkSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, thing := range things {
				value, err := kit.Value(thing.pin)
				if err != nil {
					continue
				}
				if thing.output {
					thing.sw.On.SetValue(value > 0)
				} else {
					thing.motion.MotionDetected.SetValue(value > 0)
				}
			}
		}
	}
}

func hkUniqueId(pin int) uint64 {
	hash := fnv.New64()
	hash.Write([]byte(fmt.Sprintf("pin_%d", pin)))

	return hash.Sum64()
}
