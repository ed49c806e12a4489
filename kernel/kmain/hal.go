package kmain

import (
	"bytes"
	"sort"

	"github.com/kcs1959/kcs-os/device"
	"github.com/kcs1959/kcs-os/device/sbi"
	"github.com/kcs1959/kcs-os/device/virtio"
	"github.com/kcs1959/kcs-os/kernel/kfmt"
)

// detectHardware probes the registered drivers ordered by their detection
// priority and initializes the drivers for the devices that are present.
func (k *Kernel) detectHardware() {
	drivers := k.registry.DriverList()
	sort.Sort(drivers)

	k.probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func (k *Kernel) probe(driverInfoList device.DriverInfoList) {
	var (
		w      = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}
		strBuf bytes.Buffer
	)

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		k.onDriverInit(drv)
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. The first console becomes the kfmt output
// sink and replays the messages buffered during early boot.
func (k *Kernel) onDriverInit(drv device.Driver) {
	switch drvImpl := drv.(type) {
	case *sbi.Console:
		if k.console != nil {
			return
		}
		k.console = drvImpl
		kfmt.SetOutputSink(k.console)
	case *virtio.BlockDevice:
		if k.disk != nil {
			return
		}
		k.disk = drvImpl
	}
}
