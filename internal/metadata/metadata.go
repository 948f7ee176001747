// Package metadata extracts facility, category, report date and sequence id
// from portal export filenames.
package metadata

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"ClaimSync/internal/models"
	"ClaimSync/internal/transform"
)

// FileMeta is everything the filename tells us about a report.
type FileMeta struct {
	Filename     string
	Prefix       string
	FacilityCode string
	CategoryCode string
	Category     models.Category
	ReportDate   time.Time
	SequenceID   string
	Extension    string
}

// ParseError is returned when a filename does not follow a known pattern.
// It is fatal for the file and no import job is created.
type ParseError struct {
	Filename string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("metadata: %s: %s", e.Filename, e.Reason)
}

var (
	// eclaim_10670_IP_25680122_205506156.xls
	claimNameRe = regexp.MustCompile(`^([A-Za-z]+)_(\d{5})_([A-Z]+(?:_[A-Z]+)*)_(\d{8})_(\d+)\.([A-Za-z]+)$`)
	// STM_10670_IPUCS256801_01.xls
	statementNameRe = regexp.MustCompile(`^(STM)_(\d{5})_((OP|IP)[A-Z]*?)(\d{6})_(\d+)\.([A-Za-z]+)$`)
)

var categoryCodes = map[string]models.Category{
	"OP":             models.CategoryOutpatient,
	"IP":             models.CategoryInpatient,
	"ORF":            models.CategoryReferral,
	"IP_APPEAL":      models.CategoryAppeal,
	"IP_APPEAL_NHSO": models.CategoryAppealReviewed,
	"OPLGO":          models.CategoryOutpatientLGO,
	"IPLGO":          models.CategoryInpatientLGO,
	"OPSSS":          models.CategoryOutpatientSSS,
	"IPSSS":          models.CategoryInpatientSSS,
}

var extensions = map[string]struct{}{"xls": {}, "xlsx": {}, "csv": {}}

// Parse extracts FileMeta from the basename of path.
func Parse(path string) (FileMeta, error) {
	name := filepath.Base(path)

	if m := claimNameRe.FindStringSubmatch(name); m != nil {
		ext, err := extension(name, m[6])
		if err != nil {
			return FileMeta{}, err
		}
		category, ok := categoryCodes[m[3]]
		if !ok {
			return FileMeta{}, &ParseError{Filename: name, Reason: fmt.Sprintf("unknown category code %q", m[3])}
		}
		date, ok, err := transform.Date(m[4])
		if err != nil || !ok {
			return FileMeta{}, &ParseError{Filename: name, Reason: fmt.Sprintf("invalid report date %q", m[4])}
		}
		return FileMeta{
			Filename:     name,
			Prefix:       m[1],
			FacilityCode: m[2],
			CategoryCode: m[3],
			Category:     category,
			ReportDate:   date,
			SequenceID:   m[5],
			Extension:    ext,
		}, nil
	}

	if m := statementNameRe.FindStringSubmatch(name); m != nil {
		ext, err := extension(name, m[7])
		if err != nil {
			return FileMeta{}, err
		}
		period := m[5]
		date, err := transform.BuddhistDate(atoi(period[:4]), atoi(period[4:]), 1)
		if err != nil {
			return FileMeta{}, &ParseError{Filename: name, Reason: fmt.Sprintf("invalid statement period %q", period)}
		}
		category := models.CategoryStatementOutpatient
		if m[4] == "IP" {
			category = models.CategoryStatementInpatient
		}
		return FileMeta{
			Filename:     name,
			Prefix:       m[1],
			FacilityCode: m[2],
			CategoryCode: m[3],
			Category:     category,
			ReportDate:   date,
			SequenceID:   m[6],
			Extension:    ext,
		}, nil
	}

	return FileMeta{}, &ParseError{Filename: name, Reason: "filename does not match a known report pattern"}
}

func extension(name, ext string) (string, error) {
	ext = strings.ToLower(ext)
	if _, ok := extensions[ext]; !ok {
		return "", &ParseError{Filename: name, Reason: fmt.Sprintf("unsupported extension %q", ext)}
	}
	return ext, nil
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
