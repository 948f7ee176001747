package reconcile

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"ClaimSync/internal/models"
)

// Tier numbers recorded on verdicts. TierNone means no counterpart was found.
const (
	TierNone    = 0
	TierPrimary = 1
	TierPID     = 2
)

// Pair is a claim and the counterpart chosen for it, if any.
type Pair struct {
	Claim       models.Claim
	Counterpart *models.Counterpart
	Tier        int
}

// Pairs assigns counterparts to claims one-to-one. Claims are visited in
// (table, id) order and counterparts are offered in (ref, amount) order, so
// the same inputs always produce the same pairing. Manual claims are left out.
func Pairs(claims []models.Claim, counterparts []models.Counterpart) []Pair {
	claims = slices.Clone(claims)
	slices.SortFunc(claims, func(a, b models.Claim) int {
		return cmp.Or(cmp.Compare(a.Table, b.Table), cmp.Compare(a.ID, b.ID))
	})
	cps := slices.Clone(counterparts)
	slices.SortStableFunc(cps, func(a, b models.Counterpart) int {
		return cmp.Or(cmp.Compare(a.Ref, b.Ref), a.Amount.Cmp(b.Amount))
	})

	var (
		byAdmission = map[string][]int{}
		byVisit     = map[string][]int{}
		byPID       = map[string][]int{}
		used        = make([]bool, len(cps))
	)
	for i, cp := range cps {
		if k := key(cp.HN, cp.AN); k != "" {
			byAdmission[k] = append(byAdmission[k], i)
		}
		if k := key(cp.HN, day(cp.ServiceDate)); k != "" {
			byVisit[k] = append(byVisit[k], i)
		}
		if k := key(cp.PID, day(cp.ServiceDate)); k != "" {
			byPID[k] = append(byPID[k], i)
		}
	}
	take := func(idx map[string][]int, k string) *models.Counterpart {
		if k == "" {
			return nil
		}
		for _, i := range idx[k] {
			if !used[i] {
				used[i] = true
				return &cps[i]
			}
		}
		return nil
	}

	pairs := make([]Pair, 0, len(claims))
	for _, c := range claims {
		if c.Status == models.ReconcileManual {
			continue
		}
		p := Pair{Claim: c}
		primary := key(c.HN, day(c.ServiceDate))
		idx := byVisit
		if c.Category.Inpatient() {
			primary, idx = key(c.HN, c.AN), byAdmission
		}
		if cp := take(idx, primary); cp != nil {
			p.Counterpart, p.Tier = cp, TierPrimary
		} else if cp := take(byPID, key(c.PID, day(c.ServiceDate))); cp != nil {
			p.Counterpart, p.Tier = cp, TierPID
		}
		pairs = append(pairs, p)
	}
	return pairs
}

// Judge turns a pair into a verdict. An unpaired claim stays pending.
func Judge(p Pair, threshold decimal.Decimal) models.Verdict {
	v := models.Verdict{
		ClaimID: p.Claim.ID,
		Table:   p.Claim.Table,
		TranID:  p.Claim.TranID,
		Status:  models.ReconcilePending,
		Tier:    p.Tier,
	}
	if p.Counterpart == nil {
		v.Note = "no counterpart found"
		return v
	}
	delta := p.Claim.Amount.Sub(p.Counterpart.Amount)
	v.Ref = p.Counterpart.Ref
	v.Delta = decimal.NewNullDecimal(delta)
	if delta.Abs().LessThanOrEqual(threshold) {
		v.Status = models.ReconcileMatched
	} else {
		v.Status = models.ReconcileMismatched
		v.Note = "amount differs by " + delta.StringFixed(models.AmountScale)
	}
	return v
}

// Match pairs and judges in one step.
func Match(claims []models.Claim, counterparts []models.Counterpart, threshold decimal.Decimal) []models.Verdict {
	pairs := Pairs(claims, counterparts)
	verdicts := make([]models.Verdict, len(pairs))
	for i, p := range pairs {
		verdicts[i] = Judge(p, threshold)
	}
	return verdicts
}

func key(a, b string) string {
	if a == "" || b == "" {
		return ""
	}
	return a + "\x00" + b
}

func day(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}
