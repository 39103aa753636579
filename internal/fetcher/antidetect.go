package fetcher

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// defaultUserAgents is used when the operator configures none. Real desktop
// browser strings; stores fingerprint obvious bot agents immediately.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
}

// AntidetectConfig tunes request camouflage.
type AntidetectConfig struct {
	UserAgents []string
	Proxies    []string
	DelayMin   time.Duration
	DelayMax   time.Duration
}

// Antidetect randomizes the observable shape of our traffic: a rotating
// user agent, round-robin proxies, and a human-ish pause between requests.
type Antidetect struct {
	mu         sync.Mutex
	rng        *rand.Rand
	userAgents []string
	proxies    []string
	proxyIdx   int
	delayMin   time.Duration
	delayMax   time.Duration
}

// NewAntidetect builds the camouflage layer.
func NewAntidetect(cfg AntidetectConfig) *Antidetect {
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	if cfg.DelayMin <= 0 {
		cfg.DelayMin = 2 * time.Second
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	return &Antidetect{
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		userAgents: agents,
		proxies:    cfg.Proxies,
		delayMin:   cfg.DelayMin,
		delayMax:   cfg.DelayMax,
	}
}

// UserAgent picks a random agent string from the pool.
func (a *Antidetect) UserAgent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userAgents[a.rng.Intn(len(a.userAgents))]
}

// NextProxy returns the next proxy URL round-robin, or "" when no proxies
// are configured and requests should go direct.
func (a *Antidetect) NextProxy() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.proxies) == 0 {
		return ""
	}
	p := a.proxies[a.proxyIdx%len(a.proxies)]
	a.proxyIdx++
	return p
}

// Delay sleeps a random duration inside the configured window, or returns
// early with the context's error.
func (a *Antidetect) Delay(ctx context.Context) error {
	a.mu.Lock()
	d := a.delayMin
	if span := a.delayMax - a.delayMin; span > 0 {
		d += time.Duration(a.rng.Int63n(int64(span)))
	}
	a.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("request delay interrupted: %w", ctx.Err())
	}
}
