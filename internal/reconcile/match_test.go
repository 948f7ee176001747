package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ClaimSync/internal/models"
)

func day0(s string) *time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPairsTiers(t *testing.T) {
	claims := []models.Claim{
		{ID: 1, Table: models.TableClaims, Category: models.CategoryInpatient, HN: "H1", AN: "A1", ServiceDate: day0("2025-01-21"), Amount: amt("100")},
		{ID: 2, Table: models.TableClaims, Category: models.CategoryOutpatient, HN: "H2", ServiceDate: day0("2025-01-22"), Amount: amt("50")},
		{ID: 3, Table: models.TableClaims, Category: models.CategoryOutpatient, HN: "H3", PID: "1100700000001", ServiceDate: day0("2025-01-23"), Amount: amt("70")},
		{ID: 4, Table: models.TableClaims, Category: models.CategoryOutpatient, HN: "H4", ServiceDate: day0("2025-01-24"), Amount: amt("10")},
	}
	cps := []models.Counterpart{
		{Ref: "S1", HN: "H1", AN: "A1", Amount: amt("100")},
		{Ref: "S2", HN: "H2", ServiceDate: day0("2025-01-22"), Amount: amt("50")},
		{Ref: "S3", HN: "OTHER", PID: "1100700000001", ServiceDate: day0("2025-01-23"), Amount: amt("70")},
	}

	pairs := Pairs(claims, cps)
	require.Len(t, pairs, 4)
	require.Equal(t, TierPrimary, pairs[0].Tier)
	require.Equal(t, "S1", pairs[0].Counterpart.Ref)
	require.Equal(t, TierPrimary, pairs[1].Tier)
	require.Equal(t, "S2", pairs[1].Counterpart.Ref)
	require.Equal(t, TierPID, pairs[2].Tier)
	require.Equal(t, "S3", pairs[2].Counterpart.Ref)
	require.Equal(t, TierNone, pairs[3].Tier)
	require.Nil(t, pairs[3].Counterpart)
}

func TestPairsConsumeCounterpartsOnce(t *testing.T) {
	claims := []models.Claim{
		{ID: 2, Table: models.TableClaims, Category: models.CategoryOutpatient, HN: "H1", ServiceDate: day0("2025-01-22")},
		{ID: 1, Table: models.TableClaims, Category: models.CategoryOutpatient, HN: "H1", ServiceDate: day0("2025-01-22")},
		{ID: 3, Table: models.TableClaims, Category: models.CategoryOutpatient, HN: "H1", ServiceDate: day0("2025-01-22")},
	}
	cps := []models.Counterpart{
		{Ref: "B", HN: "H1", ServiceDate: day0("2025-01-22")},
		{Ref: "A", HN: "H1", ServiceDate: day0("2025-01-22")},
	}

	pairs := Pairs(claims, cps)
	require.Equal(t, int64(1), pairs[0].Claim.ID)
	require.Equal(t, "A", pairs[0].Counterpart.Ref)
	require.Equal(t, "B", pairs[1].Counterpart.Ref)
	require.Nil(t, pairs[2].Counterpart)
}

func TestPairsSkipManualAndMissingKeys(t *testing.T) {
	claims := []models.Claim{
		{ID: 1, Table: models.TableClaims, Category: models.CategoryOutpatient, HN: "H1", ServiceDate: day0("2025-01-22"), Status: models.ReconcileManual},
		{ID: 2, Table: models.TableClaims, Category: models.CategoryInpatient, HN: "H2"},
	}
	cps := []models.Counterpart{
		{Ref: "S1", HN: "H1", ServiceDate: day0("2025-01-22")},
		{Ref: "S2", HN: "H2"},
	}
	pairs := Pairs(claims, cps)
	require.Len(t, pairs, 1)
	require.Nil(t, pairs[0].Counterpart, "an empty AN never matches")
}

func TestJudgeThreshold(t *testing.T) {
	threshold := amt("1.00")
	claim := models.Claim{ID: 1, Table: models.TableClaims, TranID: "T1", Amount: amt("100.00")}

	exact := Judge(Pair{Claim: claim, Counterpart: &models.Counterpart{Ref: "S", Amount: amt("99.00")}, Tier: TierPrimary}, threshold)
	require.Equal(t, models.ReconcileMatched, exact.Status)
	require.True(t, exact.Delta.Valid)
	require.True(t, amt("1.00").Equal(exact.Delta.Decimal))

	over := Judge(Pair{Claim: claim, Counterpart: &models.Counterpart{Ref: "S", Amount: amt("98.99")}, Tier: TierPrimary}, threshold)
	require.Equal(t, models.ReconcileMismatched, over.Status)
	require.Equal(t, "amount differs by 1.01", over.Note)

	under := Judge(Pair{Claim: claim, Counterpart: &models.Counterpart{Ref: "S", Amount: amt("101.00")}, Tier: TierPID}, threshold)
	require.Equal(t, models.ReconcileMatched, under.Status)
	require.Equal(t, TierPID, under.Tier)

	none := Judge(Pair{Claim: claim}, threshold)
	require.Equal(t, models.ReconcilePending, none.Status)
	require.False(t, none.Delta.Valid)
}

func TestMatchIsDeterministic(t *testing.T) {
	claims := []models.Claim{
		{ID: 5, Table: models.TableReferralClaims, Category: models.CategoryReferral, HN: "H", ServiceDate: day0("2025-02-01"), Amount: amt("10")},
		{ID: 5, Table: models.TableClaims, Category: models.CategoryOutpatient, HN: "H", ServiceDate: day0("2025-02-01"), Amount: amt("10")},
	}
	cps := []models.Counterpart{{Ref: "S1", HN: "H", ServiceDate: day0("2025-02-01"), Amount: amt("10")}}

	first := Match(claims, cps, amt("0"))
	second := Match([]models.Claim{claims[1], claims[0]}, cps, amt("0"))
	require.Len(t, second, len(first))
	for i := range first {
		require.Equal(t, first[i].Table, second[i].Table)
		require.Equal(t, first[i].Status, second[i].Status)
		require.Equal(t, first[i].Ref, second[i].Ref)
	}
	require.Equal(t, models.TableClaims, first[0].Table)
	require.Equal(t, models.ReconcileMatched, first[0].Status)
	require.Equal(t, models.ReconcilePending, first[1].Status)
}
