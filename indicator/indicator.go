package indicator

// Indicator is the interface for kiosk feedback implementations (LEDs,
// neopixels, etc).
type Indicator interface {
	// Idle sets the indicator to the ready-for-a-card state.
	Idle()

	// Entry shows a successful check-in.
	Entry(info *SwipeInfo)

	// Exit shows a successful check-out.
	Exit(info *SwipeInfo)

	// Rejected shows a swipe that recorded nothing.
	// info may be nil if the card could not be read.
	Rejected(info *SwipeInfo)

	// Connected marks the event uplink as up and returns to idle.
	Connected()

	// ConnectionLost sets the indicator to connection lost state.
	ConnectionLost()

	// Shutdown sets the indicator to shutdown state.
	Shutdown()

	// Release releases any hardware resources.
	Release() error
}

// SwipeInfo describes a swipe for display purposes.
type SwipeInfo struct {
	Name    string
	Card    string
	Message string
}

// Config holds configuration for indicator implementations.
type Config struct {
	// GPIO LED pins (nil = not configured)
	GreenPin  *uint8 `yaml:"green_pin"`
	YellowPin *uint8 `yaml:"yellow_pin"`
	RedPin    *uint8 `yaml:"red_pin"`

	// Neopixel pipe path (empty = not configured)
	NeopixelPipe string `yaml:"neopixel_pipe"`
}

// New creates an Indicator based on the provided configuration.
// Returns a Multi indicator if both GPIO and Neopixel are configured.
func New(cfg Config) (Indicator, error) {
	var indicators []Indicator

	if cfg.GreenPin != nil || cfg.YellowPin != nil || cfg.RedPin != nil {
		gpio, err := NewGPIO(cfg.GreenPin, cfg.YellowPin, cfg.RedPin)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, gpio)
	}

	if cfg.NeopixelPipe != "" {
		neo, err := NewNeopixel(cfg.NeopixelPipe)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, neo)
	}

	if len(indicators) == 0 {
		return &Noop{}, nil
	}
	if len(indicators) == 1 {
		return indicators[0], nil
	}
	return &Multi{indicators: indicators}, nil
}
