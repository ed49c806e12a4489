package machine

import (
	"time"

	"github.com/kcs1959/kcs-os/device/sbi"
)

// pollInterval is how long a getchar call waits for input before reporting
// that no character is available.
const pollInterval = 5 * time.Millisecond

// Firmware implements the legacy SBI extensions on top of a host console.
type Firmware struct {
	cons       Console
	onShutdown func()
}

// Call implements sbi.Firmware.
func (fw *Firmware) Call(eid, _ uint32, args [6]uint32) sbi.Ret {
	switch eid {
	case sbi.EIDConsolePutchar:
		fw.cons.Write([]byte{byte(args[0])})
		return sbi.Ret{}
	case sbi.EIDConsoleGetchar:
		if ch, ok := fw.cons.Poll(pollInterval); ok {
			return sbi.Ret{Error: int32(ch)}
		}
		return sbi.Ret{Error: -1}
	case sbi.EIDShutdown:
		if fw.onShutdown != nil {
			fw.onShutdown()
		}
		return sbi.Ret{}
	}

	// SBI_ERR_NOT_SUPPORTED
	return sbi.Ret{Error: -2}
}
