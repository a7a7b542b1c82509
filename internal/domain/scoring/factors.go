package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/okian/pqa/internal/domain/model"
)

const (
	day            = 24 * time.Hour
	recentSpan     = 7 * day
	volumeSaturate = 100 // signals at which volume reaches 100
	usersSaturate  = 25  // distinct users at which breadth reaches 100
	typesSaturate  = 5   // distinct types at which feature breadth reaches 100
	recencyHalf    = 7.0 // days for engagement recency to halve
	neutralFit     = 50
	unknownActor   = 20
)

// windowStats is the per-window aggregate the factors read from.
type windowStats struct {
	count       int
	recent      int // signals in the last 7 days
	earlier     int // older signals in the window
	earlierDays float64
	firstSeen   map[string]time.Time // identity -> first signal in window
	types       map[string]struct{}
	last        time.Time
	actorTitles map[string]string // actor id -> latest title/seniority hint from metadata
	now         time.Time
}

// newWindowStats expects signals sorted by timestamp ascending.
func newWindowStats(signals []model.Signal, now time.Time, window time.Duration) *windowStats {
	w := &windowStats{
		count:       len(signals),
		firstSeen:   make(map[string]time.Time),
		types:       make(map[string]struct{}),
		actorTitles: make(map[string]string),
		now:         now,
		earlierDays: (window - recentSpan).Hours() / 24,
	}
	recentFrom := now.Add(-recentSpan)
	for _, s := range signals {
		if s.Timestamp.Before(recentFrom) {
			w.earlier++
		} else {
			w.recent++
		}
		if id := identityOf(s); id != "" {
			if _, ok := w.firstSeen[id]; !ok {
				w.firstSeen[id] = s.Timestamp
			}
		}
		w.types[s.Type] = struct{}{}
		if s.Timestamp.After(w.last) {
			w.last = s.Timestamp
		}
		if s.ActorID != nil && *s.ActorID != "" {
			if hint := titleHint(s.Metadata); hint != "" {
				w.actorTitles[*s.ActorID] = hint
			} else if _, ok := w.actorTitles[*s.ActorID]; !ok {
				w.actorTitles[*s.ActorID] = ""
			}
		}
	}
	return w
}

func identityOf(s model.Signal) string {
	if s.ActorID != nil && strings.TrimSpace(*s.ActorID) != "" {
		return strings.TrimSpace(*s.ActorID)
	}
	if s.AnonymousID != nil {
		return strings.ToLower(strings.TrimSpace(*s.AnonymousID))
	}
	return ""
}

func titleHint(meta map[string]any) string {
	for _, k := range []string{"seniority", "title", "job_title"} {
		if v, ok := meta[k].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// logScale maps n onto [0,100] logarithmically, reaching 100 at saturate.
func logScale(n, saturate int) float64 {
	if n <= 0 {
		return 0
	}
	return 100 * math.Log1p(float64(n)) / math.Log1p(float64(saturate))
}

// signalVelocity blends volume with the change of the daily rate in the
// last 7 days against the rest of the window.
func signalVelocity(w *windowStats) model.Factor {
	volume := clampValue(logScale(w.count, volumeSaturate))

	recentRate := float64(w.recent) / recentSpan.Hours() * 24
	var baseRate float64
	if w.earlierDays > 0 {
		baseRate = float64(w.earlier) / w.earlierDays
	}
	var velocity float64
	switch {
	case baseRate == 0 && recentRate > 0:
		velocity = 100
	case baseRate == 0:
		velocity = 0
	default:
		velocity = 50 + 50*(recentRate-baseRate)/math.Max(recentRate, baseRate)
	}
	velocity = clampValue(velocity)

	return model.Factor{
		Name:   FactorSignalVelocity,
		Weight: weightSignalVelocity,
		Value:  0.6*volume + 0.4*velocity,
		Description: fmt.Sprintf("%d signals in window, %.2f/day over the last 7 days vs %.2f/day before",
			w.count, recentRate, baseRate),
	}
}

// userGrowth blends the number of distinct users with the share of them
// first seen in the last 7 days.
func userGrowth(w *windowStats) model.Factor {
	users := len(w.firstSeen)
	breadth := clampValue(logScale(users, usersSaturate))

	recentFrom := w.now.Add(-recentSpan)
	newUsers := 0
	for _, first := range w.firstSeen {
		if !first.Before(recentFrom) {
			newUsers++
		}
	}
	var growth float64
	if users > 0 {
		growth = 100 * float64(newUsers) / float64(users)
	}

	return model.Factor{
		Name:        FactorUserGrowth,
		Weight:      weightUserGrowth,
		Value:       0.7*breadth + 0.3*growth,
		Description: fmt.Sprintf("%d distinct users, %d new in the last 7 days", users, newUsers),
	}
}

func featureBreadth(w *windowStats) model.Factor {
	n := len(w.types)
	return model.Factor{
		Name:        FactorFeatureBreadth,
		Weight:      weightFeatureBreadth,
		Value:       100 * float64(n) / typesSaturate,
		Description: fmt.Sprintf("%d distinct signal types", n),
	}
}

// engagementRecency halves every 7 days since the last signal.
func engagementRecency(w *windowStats, now time.Time) model.Factor {
	days := now.Sub(w.last).Hours() / 24
	if days < 0 {
		days = 0
	}
	return model.Factor{
		Name:        FactorEngagementRecency,
		Weight:      weightEngagementRecency,
		Value:       100 * math.Pow(0.5, days/recencyHalf),
		Description: fmt.Sprintf("last signal %.1f days ago", days),
	}
}

// seniorityMix averages the seniority weight of distinct actors. Contact
// titles win over metadata hints; actors with neither count as unknown.
func seniorityMix(w *windowStats, contacts []model.Contact) model.Factor {
	f := model.Factor{Name: FactorSeniorityMix, Weight: weightSeniorityMix}
	if len(w.actorTitles) == 0 {
		f.Description = "no known actors"
		return f
	}

	titles := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.ActorID != "" && strings.TrimSpace(c.Title) != "" {
			titles[c.ActorID] = c.Title
		}
	}

	actors := make([]string, 0, len(w.actorTitles))
	for a := range w.actorTitles {
		actors = append(actors, a)
	}
	sort.Strings(actors)

	var sum float64
	senior := 0
	for _, a := range actors {
		title := titles[a]
		if title == "" {
			title = w.actorTitles[a]
		}
		weight := SeniorityWeight(title)
		if weight >= 80 {
			senior++
		}
		sum += weight
	}
	f.Value = sum / float64(len(actors))
	f.Description = fmt.Sprintf("%d actors, %d director level or above", len(actors), senior)
	return f
}

// SeniorityWeight scores a job title or seniority label.
func SeniorityWeight(title string) float64 {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return unknownActor
	}
	padded := " " + strings.Join(words, " ") + " "
	has := func(terms ...string) bool {
		for _, t := range terms {
			if strings.Contains(padded, " "+t+" ") {
				return true
			}
		}
		return false
	}

	switch {
	case has("chief", "cxo", "ceo", "cto", "cio", "cfo", "coo", "cpo", "vp", "svp", "evp",
		"vice president", "founder", "cofounder", "head", "owner", "president", "exec", "executive"):
		return 100
	case has("director"):
		return 80
	case has("manager", "lead", "principal", "staff"):
		return 60
	case has("senior", "sr"):
		return 45
	default:
		return 30
	}
}

// firmographicFit is the share of configured ICP criteria the company meets.
func firmographicFit(company *model.Company, icp *model.ICP) model.Factor {
	f := model.Factor{Name: FactorFirmographicFit, Weight: weightFirmographicFit}
	if company == nil || icp == nil || icp.Empty() {
		f.Value = neutralFit
		f.Description = "no ideal-customer profile to compare"
		return f
	}

	criteria, matched := 0, 0
	if len(icp.Industries) > 0 {
		criteria++
		if containsFold(icp.Industries, company.Industry) {
			matched++
		}
	}
	if len(icp.Countries) > 0 {
		criteria++
		if containsFold(icp.Countries, company.Country) {
			matched++
		}
	}
	if icp.MinEmployees > 0 || icp.MaxEmployees > 0 {
		criteria++
		n := company.EmployeeCount
		if n >= icp.MinEmployees && (icp.MaxEmployees <= 0 || n <= icp.MaxEmployees) {
			matched++
		}
	}

	f.Value = 100 * float64(matched) / float64(criteria)
	f.Description = fmt.Sprintf("matches %d of %d profile criteria", matched, criteria)
	return f
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}
