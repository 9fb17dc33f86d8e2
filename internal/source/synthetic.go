package source

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/config"
	"github.com/couchcryptid/energy-data-ingest/internal/domain"
)

// Generator produces substitute records when every live endpoint is down.
// The shapes follow the real feeds closely enough for downstream analytics
// to keep running: loads follow daily and weekly demand curves, solar only
// produces during daylight, household sub-meters stay within the active
// power budget.
//
// One Generator is shared by all source clients and their runs overlap under
// the streaming manager, so all access to the rng goes through the mutex.
type Generator struct {
	tier domain.SyntheticTier

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator builds a generator for the given tier. The seed makes output
// reproducible for fixtures and tests.
func NewGenerator(tier domain.SyntheticTier, seed int64) *Generator {
	return &Generator{tier: tier, rng: rand.New(rand.NewSource(seed))}
}

// noise scales Gaussian jitter by tier: lower tiers are rougher
// approximations of the real feeds.
func (g *Generator) noise(stddev float64) float64 {
	scale := 1.0
	switch g.tier {
	case domain.TierBasic:
		scale = 2.0
	case domain.TierHigh:
		scale = 0.5
	}
	g.mu.Lock()
	n := g.rng.NormFloat64()
	g.mu.Unlock()
	return n * stddev * scale
}

func (g *Generator) exponential(mean float64) float64 {
	g.mu.Lock()
	e := g.rng.ExpFloat64()
	g.mu.Unlock()
	return e * mean
}

// uniform draws from [0, 1).
func (g *Generator) uniform() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

// demandFactor is the shared daily demand curve, peaking around 19:00.
func demandFactor(t time.Time) float64 {
	hour := float64(t.Hour())
	daily := 0.8 + 0.4*(1+math.Cos(2*math.Pi*(hour-19)/24))
	weekly := 0.9
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekly = 0.7
	}
	return daily * weekly
}

// baseLoads is typical national demand in MW.
var baseLoads = map[string]float64{
	"FR": 50000,
	"DE": 60000,
	"ES": 35000,
}

// GridSnapshots generates one snapshot per country per hour across the
// window.
func (g *Generator) GridSnapshots(w domain.Window, countries []string) []domain.Record {
	var out []domain.Record
	for ts := w.Start.Truncate(time.Hour); !ts.After(w.End); ts = ts.Add(time.Hour) {
		for _, country := range countries {
			base, ok := baseLoads[country]
			if !ok {
				base = 40000
			}
			load := math.Max(0, base*demandFactor(ts)+g.noise(base*0.05))

			hour := ts.Hour()
			solar := 0.0
			if hour >= 6 && hour <= 18 {
				solar = math.Max(0, 3000+g.noise(1000))
			}
			windOn := g.exponential(8000)
			windOff := g.exponential(4000)
			hydro := math.Max(0, base*0.1+g.noise(500))
			nuclear := math.Max(0, base*0.7+g.noise(1000))
			fossil := math.Max(0, load-(solar+windOn+windOff+hydro+nuclear))
			otherRenewable := math.Max(0, 1000+g.noise(300))
			total := solar + windOn + windOff + hydro + nuclear + fossil + otherRenewable

			out = append(out, g.tag(&domain.GridSnapshot{
				CountryCode:     country,
				LoadActual:      domain.Float(load),
				LoadForecast:    domain.Float(math.Max(0, load*(1+g.noise(0.02)))),
				Solar:           domain.Float(solar),
				WindOnshore:     domain.Float(windOn),
				WindOffshore:    domain.Float(windOff),
				Hydro:           domain.Float(hydro),
				Nuclear:         domain.Float(nuclear),
				Fossil:          domain.Float(fossil),
				OtherRenewable:  domain.Float(otherRenewable),
				TotalGeneration: domain.Float(total),
				NetImportExport: domain.Float(total - load),
				PriceDayAhead:   domain.Float(50 + g.noise(20)),
				SourceName:      "Synthetic Generator",
			}, ts))
		}
	}
	return out
}

// WeatherObservations generates one observation per location per hour
// across the window.
func (g *Generator) WeatherObservations(w domain.Window, locations []config.WeatherLocation) []domain.Record {
	var out []domain.Record
	for ts := w.Start.Truncate(time.Hour); !ts.After(w.End); ts = ts.Add(time.Hour) {
		for _, loc := range locations {
			hour := float64(ts.Hour())
			radiation := 0.0
			if hour >= 6 && hour <= 18 {
				radiation = math.Max(0, 500*math.Sin(math.Pi*(hour-6)/12)*(0.5+g.uniform()*0.5))
			}
			temperature := 15 + g.noise(5)

			out = append(out, g.tag(&domain.WeatherObservation{
				LocationID:         loc.ID,
				Latitude:           loc.Lat,
				Longitude:          loc.Lon,
				Temperature:        domain.Float(temperature),
				Humidity:           domain.Float(clamp(50+g.noise(20), 0, 100)),
				DewPoint:           domain.Float(temperature - 2 - g.uniform()*5),
				Rain:               domain.Float(g.exponential(0.1)),
				ShortwaveRadiation: domain.Float(radiation),
				WindSpeed:          domain.Float(10 + g.exponential(5)),
				WindDirection:      domain.Float(g.uniform() * 360),
				CloudCover:         domain.Float(g.uniform() * 100),
				SurfacePressure:    domain.Float(1013 + g.noise(10)),
				Provider:           "Synthetic Generator",
			}, ts))
		}
	}
	return out
}

// HouseholdReadings generates one reading per minute across the window for
// the configured household.
func (g *Generator) HouseholdReadings(w domain.Window, householdID string) []domain.Record {
	var out []domain.Record
	for ts := w.Start.Truncate(time.Minute); !ts.After(w.End); ts = ts.Add(time.Minute) {
		base := 0.5 + 0.3*(1+math.Cos(2*math.Pi*(float64(ts.Hour())-19)/24))
		power := math.Max(0, base+g.noise(0.2))

		sub1 := math.Max(0, power*0.3*1000/60)
		sub2 := math.Max(0, power*0.2*1000/60)
		sub3 := math.Max(0, power*0.1*1000/60)
		other := math.Max(0, power*1000/60-(sub1+sub2+sub3))

		out = append(out, g.tag(&domain.HouseholdReading{
			HouseholdID:         householdID,
			GlobalActivePower:   domain.Float(power),
			GlobalReactivePower: domain.Float(math.Max(0, power*0.2+g.noise(0.05))),
			Voltage:             domain.Float(240 + g.noise(5)),
			GlobalIntensity:     domain.Float(math.Max(0, power*4.2+g.noise(0.5))),
			SubMetering1:        domain.Float(sub1),
			SubMetering2:        domain.Float(sub2),
			SubMetering3:        domain.Float(sub3),
			OtherConsumption:    domain.Float(other),
			SourceFile:          "synthetic",
		}, ts))
	}
	return out
}

func (g *Generator) tag(r domain.Record, ts time.Time) domain.Record {
	switch rec := r.(type) {
	case *domain.HouseholdReading:
		rec.Ts = ts.UTC()
		rec.Prov = domain.ProvenanceSynthetic
		rec.Tier = g.tier
	case *domain.WeatherObservation:
		rec.Ts = ts.UTC()
		rec.Prov = domain.ProvenanceSynthetic
		rec.Tier = g.tier
	case *domain.GridSnapshot:
		rec.Ts = ts.UTC()
		rec.Prov = domain.ProvenanceSynthetic
		rec.Tier = g.tier
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
