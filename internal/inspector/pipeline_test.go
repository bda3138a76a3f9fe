package inspector

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pskSignal describes an impaired M-PSK burst at 40 samples per symbol.
type pskSignal struct {
	order    int
	amp      float64
	offsetHz float64
	phase    float64
	noise    float64
}

// generate returns the transmitted symbol indices and the sampled waveform.
// BPSK symbols sit on the real axis; higher orders are offset by pi/order.
func (s pskSignal) generate(n, sps int, seed int64) ([]int, []complex64) {
	rng := rand.New(rand.NewSource(seed))
	base := 0.0
	if s.order > 2 {
		base = math.Pi / float64(s.order)
	}
	syms := make([]int, n)
	out := make([]complex64, 0, n*sps)
	k := 0
	for i := range syms {
		syms[i] = rng.Intn(s.order)
		angle := 2*math.Pi*float64(syms[i])/float64(s.order) + base + s.phase
		for j := 0; j < sps; j++ {
			v := cmplx.Rect(s.amp, angle+2*math.Pi*s.offsetHz*float64(k)/testRate)
			if s.noise > 0 {
				v += complex(s.noise*rng.NormFloat64(), s.noise*rng.NormFloat64())
			}
			out = append(out, complex64(v))
			k++
		}
	}
	return syms, out
}

// symbolErrors counts mismatches over the last tail decisions, minimised
// over the pipeline delay and the constellation's phase ambiguity.
func symbolErrors(decided, syms []int, order, tail int) int {
	best := tail
	for shift := -40; shift <= 40; shift++ {
		for rot := 0; rot < order; rot++ {
			errs, n := 0, 0
			for i := len(decided) - tail; i < len(decided); i++ {
				j := i + shift
				if i < 0 || j < 0 || j >= len(syms) {
					continue
				}
				n++
				if decided[i] != (syms[j]+rot)%order {
					errs++
				}
			}
			if n == tail && errs < best {
				best = errs
			}
		}
	}
	return best
}

func TestAdaptivePipelineDecodes(t *testing.T) {
	const (
		nsym = 2400
		sps  = 40
		tail = 1000
	)
	cases := []struct {
		name   string
		signal pskSignal
		setup  func(*Params)
	}{
		{"costas2", pskSignal{order: 2, amp: 1, offsetHz: 30, phase: 0.7}, func(p *Params) {
			p.CarrierMode = CarrierCostas2
		}},
		{"costas4", pskSignal{order: 4, amp: 1, offsetHz: 30, phase: 0.7}, func(p *Params) {
			p.CarrierMode = CarrierCostas4
		}},
		{"costas8", pskSignal{order: 8, amp: 1, offsetHz: 30, phase: 0.7}, func(p *Params) {
			p.CarrierMode = CarrierCostas8
		}},
		{"agc", pskSignal{order: 2, amp: 0.1, phase: math.Pi / 2}, func(p *Params) {
			p.GainMode = GainAutomatic
		}},
		{"agc costas4", pskSignal{order: 4, amp: 0.1, offsetHz: -20, phase: 1.1}, func(p *Params) {
			p.GainMode = GainAutomatic
			p.CarrierMode = CarrierCostas4
		}},
		{"gardner bpsk", pskSignal{order: 2, amp: 1, phase: math.Pi / 2}, func(p *Params) {
			p.TimingMode = TimingGardner
		}},
		{"gardner qpsk", pskSignal{order: 4, amp: 1}, func(p *Params) {
			p.TimingMode = TimingGardner
		}},
		{"gardner rrc fast baud", pskSignal{order: 2, amp: 1, phase: math.Pi / 2}, func(p *Params) {
			p.TimingMode = TimingGardner
			p.MatchedFilter = MatchedFilterRRC
			p.Baud = 1210
		}},
		{"gardner rrc slow baud", pskSignal{order: 2, amp: 1, phase: math.Pi / 2}, func(p *Params) {
			p.TimingMode = TimingGardner
			p.MatchedFilter = MatchedFilterRRC
			p.Baud = 1190
		}},
		{"all stages qpsk", pskSignal{order: 4, amp: 0.2, offsetHz: 25, phase: 0.3, noise: 0.02}, func(p *Params) {
			p.GainMode = GainAutomatic
			p.CarrierMode = CarrierCostas4
			p.MatchedFilter = MatchedFilterRRC
			p.TimingMode = TimingGardner
		}},
		{"all stages 8psk", pskSignal{order: 8, amp: 3, offsetHz: -15}, func(p *Params) {
			p.GainMode = GainAutomatic
			p.CarrierMode = CarrierCostas8
			p.MatchedFilter = MatchedFilterRRC
			p.TimingMode = TimingGardner
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := newTestInspector(t)
			p := manualParams(1200)
			p.SymbolPhase = 0.5
			tc.setup(&p)
			require.NoError(t, in.RequestParams(p))

			syms, samples := tc.signal.generate(nsym, sps, 5)
			symbols := feedAll(t, in, samples)
			require.InDelta(t, nsym, len(symbols), 5)

			decided := DecideBlock(nil, symbols, tc.signal.order)
			assert.LessOrEqual(t, symbolErrors(decided, syms, tc.signal.order, tail), tail/100)
		})
	}
}
