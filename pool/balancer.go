package pool

import (
	"math/rand"
	"sync"
	"time"
)

// LoadBalancer picks one connection among a pool's idle healthy candidates.
type LoadBalancer struct {
	mu       sync.Mutex
	strategy Strategy
	index    uint64
	// weights is kept per connection id for static weighting; the weighted
	// strategy currently derives weights from live metrics instead.
	weights map[string]float64
	rnd     *rand.Rand
}

// NewLoadBalancer creates a balancer for the given strategy.
// A nil rnd is replaced by a time-seeded source.
func NewLoadBalancer(strategy Strategy, rnd *rand.Rand) *LoadBalancer {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &LoadBalancer{
		strategy: strategy,
		weights:  make(map[string]float64),
		rnd:      rnd,
	}
}

// SetStrategy switches the strategy; the round-robin cursor is kept.
func (lb *LoadBalancer) SetStrategy(s Strategy) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.strategy = s
}

// Strategy returns the active strategy.
func (lb *LoadBalancer) Strategy() Strategy {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.strategy
}

// SetWeight stores a static weight for a connection.
func (lb *LoadBalancer) SetWeight(connID string, w float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.weights[connID] = w
}

// Weight returns the static weight stored for a connection.
func (lb *LoadBalancer) Weight(connID string) (float64, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	w, ok := lb.weights[connID]
	return w, ok
}

// Forget drops per-connection state for a destroyed connection.
func (lb *LoadBalancer) Forget(connID string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	delete(lb.weights, connID)
}

// Select returns the index into conns of the chosen candidate, or -1.
// Only idle healthy connections are candidates.
func (lb *LoadBalancer) Select(conns []*Connection) int {
	candidates := make([]int, 0, len(conns))
	for i, c := range conns {
		if c.Status == StatusIdle && c.HealthStatus == ConnectionHealthy {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	switch lb.strategy {
	case StrategyLeastConnections:
		return candidates[leastErrors(conns, candidates)]
	case StrategyWeighted:
		return candidates[lb.weighted(conns, candidates)]
	default:
		i := candidates[lb.index%uint64(len(candidates))]
		lb.index++
		return i
	}
}

// leastErrors 返回错误次数最少的候选下标；尽管策略名为 least-connections，判别依据是 ErrorCount
func leastErrors(conns []*Connection, candidates []int) int {
	best := 0
	for k := 1; k < len(candidates); k++ {
		if conns[candidates[k]].ErrorCount < conns[candidates[best]].ErrorCount {
			best = k
		}
	}
	return best
}

// weighted 按临时权重做累积随机抽取，全部权重为 0 时退回第一个候选
func (lb *LoadBalancer) weighted(conns []*Connection, candidates []int) int {
	weights := make([]float64, len(candidates))
	var total float64
	for k, idx := range candidates {
		weights[k] = connectionWeight(conns[idx])
		total += weights[k]
	}
	if total <= 0 {
		return 0
	}

	r := lb.rnd.Float64() * total
	for k, w := range weights {
		r -= w
		if r <= 0 {
			return k
		}
	}
	return 0
}

// connectionWeight = max(0, 100-响应毫秒) + max(0, 10-错误次数)
func connectionWeight(c *Connection) float64 {
	rt := float64(c.ResponseTime) / float64(time.Millisecond)
	w := 100 - rt
	if w < 0 {
		w = 0
	}
	e := float64(10 - c.ErrorCount)
	if e < 0 {
		e = 0
	}
	return w + e
}
