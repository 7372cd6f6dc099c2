package source

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"odin-telemetry/internal/config"
	"odin-telemetry/internal/packet"
)

// Pattern selects the waveform a simulated packet type's payload
// follows.
type Pattern string

const (
	PatternConstant Pattern = "constant"
	PatternLinear   Pattern = "linear"
	PatternSine     Pattern = "sine"
	PatternCosine   Pattern = "cosine"
	PatternSquare   Pattern = "square"
	PatternSawtooth Pattern = "sawtooth"
	PatternRandom   Pattern = "random"
	PatternCounter  Pattern = "counter"
	PatternBitfield Pattern = "bitfield"
)

// Generate computes the next float64 payload value for one packet
// type's pattern, given elapsed time t (seconds) since the source
// started and the type's own fire counter n.
func generate(cfg config.PacketTypeConfig, t float64, n uint32) float64 {
	pattern := Pattern(cfg.Pattern)
	switch pattern {
	case PatternConstant:
		return cfg.Offset
	case PatternLinear:
		return cfg.Offset + cfg.Amplitude*t
	case PatternSine:
		return cfg.Offset + cfg.Amplitude*math.Sin(2*math.Pi*cfg.Frequency*t)
	case PatternCosine:
		return cfg.Offset + cfg.Amplitude*math.Cos(2*math.Pi*cfg.Frequency*t)
	case PatternSquare:
		phase := math.Mod(cfg.Frequency*t, 1.0)
		if phase < 0.5 {
			return cfg.Offset + cfg.Amplitude
		}
		return cfg.Offset - cfg.Amplitude
	case PatternSawtooth:
		frac := cfg.Frequency * t
		frac -= math.Floor(frac)
		return cfg.Offset + cfg.Amplitude*(frac*2-1)
	case PatternRandom:
		return cfg.Offset - cfg.Amplitude + rand.Float64()*2*cfg.Amplitude
	case PatternCounter:
		return float64(n)
	case PatternBitfield:
		return float64(uint32(1) << (n % 32))
	default:
		return cfg.Offset
	}
}

// SimulationSource is the timed synthetic generator of §4.H: one timer
// per enabled packet type, producing patterned payloads until an
// optional total duration expires.
type SimulationSource struct {
	*Base

	cfg     config.SimulationConfig
	factory *packet.Factory

	mu        sync.Mutex
	typeState map[uint32]*typeRuntime

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type typeRuntime struct {
	cfg     config.PacketTypeConfig
	counter uint32
}

// NewSimulationSource creates a simulation source against factory,
// using cfg's packet-type list.
func NewSimulationSource(cfg config.SimulationConfig, factory *packet.Factory) *SimulationSource {
	s := &SimulationSource{
		cfg:       cfg,
		factory:   factory,
		typeState: make(map[uint32]*typeRuntime),
	}
	s.Base = NewBase(cfg.Name, cfg.MaxPacketRate, s)
	for _, pc := range cfg.Types {
		if pc.Enabled {
			s.typeState[pc.ID] = &typeRuntime{cfg: pc}
		}
	}
	return s
}

// DoStart launches one goroutine-timer per enabled packet type, plus an
// optional duration timer that stops the source when total_duration_ms
// elapses.
func (s *SimulationSource) DoStart() bool {
	s.stopCh = make(chan struct{})
	start := time.Now()

	s.mu.Lock()
	types := make([]*typeRuntime, 0, len(s.typeState))
	for _, tr := range s.typeState {
		types = append(types, tr)
	}
	s.mu.Unlock()

	for _, tr := range types {
		s.wg.Add(1)
		go s.runType(tr, start)
	}

	if s.cfg.TotalDurationMs > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			select {
			case <-time.After(time.Duration(s.cfg.TotalDurationMs) * time.Millisecond):
				go s.Stop()
			case <-s.stopCh:
			}
		}()
	}

	return true
}

func (s *SimulationSource) runType(tr *typeRuntime, start time.Time) {
	defer s.wg.Done()

	interval := time.Duration(tr.cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Millisecond
	}

	for {
		wait := interval
		if s.cfg.RandomizeTimings && s.cfg.TimingJitterMs > 0 {
			jitter := time.Duration(rand.Int63n(int64(s.cfg.TimingJitterMs)*2+1)-s.cfg.TimingJitterMs) * time.Millisecond
			wait += jitter
			if wait < 0 {
				wait = 0
			}
		}

		select {
		case <-s.stopCh:
			return
		case <-time.After(wait):
		}

		if s.State() != StateRunning {
			continue
		}
		if s.ShouldThrottle() {
			s.RecordDropped()
			continue
		}

		burst := s.cfg.BurstSize
		if burst < 1 {
			burst = 1
		}
		for i := 0; i < burst; i++ {
			s.emit(tr, start)
		}
	}
}

func (s *SimulationSource) emit(tr *typeRuntime, start time.Time) {
	t := time.Since(start).Seconds()
	tr.counter++
	n := tr.counter

	payloadSize := tr.cfg.PayloadSize
	if payloadSize < 1 {
		payloadSize = 8
	}
	payload := make([]byte, payloadSize)

	switch Pattern(tr.cfg.Pattern) {
	case PatternCounter:
		encodeUint32LE(payload, n)
	case PatternBitfield:
		encodeUint32LE(payload, uint32(1)<<(n%32))
	default:
		encodeFloat64LE(payload, generate(tr.cfg, t, n))
	}

	p, err := s.factory.Create(tr.cfg.ID, payload, payloadSize)
	s.RecordGenerated()
	if err != nil {
		s.ReportError(err)
		return
	}
	p.AddFlags(packetFlagsSimulationTestData())
	s.Deliver(p)
}

// encodeFloat64LE writes v's IEEE-754 bits little-endian into dst,
// truncated if dst is shorter than 8 bytes and zero-padded if longer.
func encodeFloat64LE(dst []byte, v float64) {
	bits := math.Float64bits(v)
	for i := 0; i < 8 && i < len(dst); i++ {
		dst[i] = byte(bits >> (8 * i))
	}
}

// encodeUint32LE writes v little-endian into dst, the integer
// equivalent of encodeFloat64LE used by the Counter and Bitfield
// patterns, which carry u32 sequence/mask values rather than floats.
func encodeUint32LE(dst []byte, v uint32) {
	for i := 0; i < 4 && i < len(dst); i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func packetFlagsSimulationTestData() packet.Flag {
	return packet.FlagSimulation | packet.FlagTestData
}

// DoStop signals all per-type timers to exit and waits for them.
func (s *SimulationSource) DoStop() {
	if s.stopCh != nil {
		close(s.stopCh)
	}
	s.wg.Wait()
}

// DoPause is a no-op: timers keep running but runType checks State()
// before producing, so paused sources simply stop delivering.
func (s *SimulationSource) DoPause() {}

// DoResume is a no-op counterpart to DoPause.
func (s *SimulationSource) DoResume() bool { return true }

// DefaultSimulationConfig returns config.DefaultSimulationConfig(),
// re-exported for callers that only import this package.
func DefaultSimulationConfig() config.SimulationConfig {
	return config.DefaultSimulationConfig()
}

// StressTestConfig returns config.StressTestSimulationConfig().
func StressTestConfig() config.SimulationConfig {
	return config.StressTestSimulationConfig()
}
