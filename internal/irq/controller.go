package irq

import "nebula/internal/sched"

// Controller is the pluggable interrupt controller backing Install,
// masking, EOI and IPI delivery. Grounded on intctl.c's struct
// intctl_ops dispatched through a single active controller chosen by
// highest Rating, the way the original links every compiled-in
// controller into a linker section and picks the best one that
// initializes successfully.
type Controller interface {
	Name() string
	// Rating is compared across every registered Controller; the
	// highest-rated one that InitBSP succeeds on wins. 0 means
	// permanently unavailable (the original's disqualification marker).
	Rating() int
	InitBSP() error
	InitAP() error
	Install(irqNum int, isr *ISR, cpu *sched.CPU) error
	Uninstall(irqNum int) error
	SendIPI(cpu *sched.CPU, isr *ISR, flags int) error
	Enable(irqNum int) error
	Disable(irqNum int) error
	EOI(irqNum int) error
	WaitPending(irqNum int) error
}

var registered []Controller

// RegisterController adds c to the set InitBSP picks from. Grounded on
// the original's _ld_kernel_intctl_start/_end linker-section registry.
func RegisterController(c Controller) { registered = append(registered, c) }

var active Controller

// InitBSP picks the highest-rated registered controller whose InitBSP
// succeeds, disqualifying (rating 0) any that fail and trying the next.
// Grounded on intctl_init_bsp.
func InitBSP() Controller {
	candidates := append([]Controller(nil), registered...)
	for {
		var best Controller
		bestRating := 0
		for _, c := range candidates {
			if c.Rating() > bestRating {
				best, bestRating = c, c.Rating()
			}
		}
		if best == nil {
			return nil
		}
		if err := best.InitBSP(); err == nil {
			active = best
			return best
		}
		candidates = removeController(candidates, best)
	}
}

func removeController(cs []Controller, victim Controller) []Controller {
	out := cs[:0]
	for _, c := range cs {
		if c != victim {
			out = append(out, c)
		}
	}
	return out
}

// InitAP brings up the active controller on a non-bootstrap CPU.
// Grounded on intctl_init_ap.
func InitAP() error {
	if active == nil {
		return nil
	}
	return active.InitAP()
}

// Active returns the controller InitBSP selected, or nil before boot.
func Active() Controller { return active }
