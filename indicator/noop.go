package indicator

// Noop implements Indicator but does nothing.
// Used when no indicators are configured.
type Noop struct{}

func (n *Noop) Idle()                    {}
func (n *Noop) Entry(info *SwipeInfo)    {}
func (n *Noop) Exit(info *SwipeInfo)     {}
func (n *Noop) Rejected(info *SwipeInfo) {}
func (n *Noop) Connected()               {}
func (n *Noop) ConnectionLost()          {}
func (n *Noop) Shutdown()                {}
func (n *Noop) Release() error           { return nil }
