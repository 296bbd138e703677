package whatsapp

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	defaultPacingCap = 2 * time.Minute
	pacingBase       = 1500 * time.Millisecond
	pacingPerRune    = 45 * time.Millisecond
	// sendMargin is left on the job's deadline for the send itself.
	sendMargin = 8 * time.Second
)

// Pacer computes a human-like typing delay for a message.
type Pacer struct {
	cap time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewPacer(limit time.Duration) *Pacer {
	if limit <= 0 {
		limit = defaultPacingCap
	}
	return &Pacer{cap: limit, rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))}
}

// Delay grows with message length, jittered by ±20%, bounded by the cap and by
// whatever time remains on ctx.
func (p *Pacer) Delay(ctx context.Context, text string) time.Duration {
	n := len([]rune(text))
	d := pacingBase + time.Duration(n)*pacingPerRune

	p.mu.Lock()
	jitter := 0.8 + 0.4*p.rng.Float64()
	p.mu.Unlock()
	d = time.Duration(float64(d) * jitter)

	if d > p.cap {
		d = p.cap
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline) - sendMargin
		if remaining < d {
			d = remaining
		}
	}
	if d < 0 {
		return 0
	}
	return d
}
