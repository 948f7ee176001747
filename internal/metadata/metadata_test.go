package metadata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClaimSync/internal/models"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name     string
		category models.Category
		code     string
		facility string
		date     time.Time
		seq      string
		ext      string
	}{
		{"eclaim_10670_IP_25680122_205506156.xls", models.CategoryInpatient, "IP", "10670", date(2025, 1, 22), "205506156", "xls"},
		{"eclaim_10670_OP_25671231_1.xlsx", models.CategoryOutpatient, "OP", "10670", date(2024, 12, 31), "1", "xlsx"},
		{"eclaim_11001_ORF_25680301_42.XLS", models.CategoryReferral, "ORF", "11001", date(2025, 3, 1), "42", "xls"},
		{"eclaim_10670_IP_APPEAL_25680122_7.xls", models.CategoryAppeal, "IP_APPEAL", "10670", date(2025, 1, 22), "7", "xls"},
		{"eclaim_10670_IP_APPEAL_NHSO_25680122_8.xls", models.CategoryAppealReviewed, "IP_APPEAL_NHSO", "10670", date(2025, 1, 22), "8", "xls"},
		{"eclaim_10670_OPLGO_25680122_9.csv", models.CategoryOutpatientLGO, "OPLGO", "10670", date(2025, 1, 22), "9", "csv"},
		{"eclaim_10670_IPSSS_25680122_10.xls", models.CategoryInpatientSSS, "IPSSS", "10670", date(2025, 1, 22), "10", "xls"},
		{"STM_10670_IPUCS256801_01.xls", models.CategoryStatementInpatient, "IPUCS", "10670", date(2025, 1, 1), "01", "xls"},
		{"STM_10670_OPUCS256712_02.xlsx", models.CategoryStatementOutpatient, "OPUCS", "10670", date(2024, 12, 1), "02", "xlsx"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta, err := Parse("/data/inbox/" + tc.name)
			require.NoError(t, err)
			assert.Equal(t, tc.name, meta.Filename)
			assert.Equal(t, tc.category, meta.Category)
			assert.Equal(t, tc.code, meta.CategoryCode)
			assert.Equal(t, tc.facility, meta.FacilityCode)
			assert.True(t, tc.date.Equal(meta.ReportDate), "report date %s", meta.ReportDate)
			assert.Equal(t, tc.seq, meta.SequenceID)
			assert.Equal(t, tc.ext, meta.Extension)
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, name := range []string{
		"eclaim_10670_XX_25680122_1.xls",   // unknown category
		"eclaim_10670_IP_25680230_1.xls",   // Feb 30
		"eclaim_10670_IP_20250122_1.xls",   // Gregorian year
		"eclaim_1067_IP_25680122_1.xls",    // short facility code
		"eclaim_10670_IP_25680122_1.pdf",   // extension
		"eclaim_10670_IP_25680122.xls",     // no sequence
		"random.xlsx",
		"STM_10670_IPUCS256813_01.xls",     // month 13
	} {
		_, err := Parse(name)
		require.Error(t, err, name)
		var perr *ParseError
		assert.True(t, errors.As(err, &perr), name)
	}
}

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}
