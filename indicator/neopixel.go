package indicator

import (
	"fmt"
	"os"
	"sync"
)

// Neopixel command strings for the external neopixel tool.
const (
	neoConnectionLost = "@2 !150000 001010"
	neoNormalIdle     = "@3 !150000 400000"
	neoEntry          = "@1 !50000 8000"
	neoExit           = "@1 !50000 808000"
	neoRejected       = "@2 !10000 ff"
	neoTerminated     = "@0 010101"
)

// Neopixel implements Indicator using an external neopixel tool via named pipe.
type Neopixel struct {
	mu         sync.Mutex
	pipe       *os.File
	idleString string
}

// NewNeopixel creates a new Neopixel indicator.
func NewNeopixel(pipePath string) (*Neopixel, error) {
	f, err := os.OpenFile(pipePath, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open neopixel pipe %s: %w", pipePath, err)
	}

	n := &Neopixel{
		pipe:       f,
		idleString: neoConnectionLost, // Start with connection lost until connected
	}
	return n, nil
}

// Idle implements Indicator.Idle.
func (n *Neopixel) Idle() {
	n.mu.Lock()
	s := n.idleString
	n.mu.Unlock()
	n.write(s)
}

// Entry implements Indicator.Entry.
func (n *Neopixel) Entry(info *SwipeInfo) {
	n.write(neoEntry)
}

// Exit implements Indicator.Exit.
func (n *Neopixel) Exit(info *SwipeInfo) {
	n.write(neoExit)
}

// Rejected implements Indicator.Rejected.
func (n *Neopixel) Rejected(info *SwipeInfo) {
	n.write(neoRejected)
}

// Connected implements Indicator.Connected.
func (n *Neopixel) Connected() {
	n.mu.Lock()
	n.idleString = neoNormalIdle
	n.mu.Unlock()
	n.write(neoNormalIdle)
}

// ConnectionLost implements Indicator.ConnectionLost.
func (n *Neopixel) ConnectionLost() {
	n.mu.Lock()
	n.idleString = neoConnectionLost
	n.mu.Unlock()
	n.write(neoConnectionLost)
}

// Shutdown implements Indicator.Shutdown.
func (n *Neopixel) Shutdown() {
	n.write(neoTerminated)
}

// Release implements Indicator.Release.
func (n *Neopixel) Release() error {
	if n.pipe == nil {
		return nil
	}
	return n.pipe.Close()
}

func (n *Neopixel) write(s string) {
	if n.pipe != nil {
		n.pipe.Write([]byte(s))
	}
}
