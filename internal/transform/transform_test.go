package transform

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	cases := []struct {
		in   string
		want time.Time
	}{
		{"25680121", day(2025, time.January, 21)},
		{"2568-01-21", day(2025, time.January, 21)},
		{"2568/1/21", day(2025, time.January, 21)},
		{"21/01/2568", day(2025, time.January, 21)},
		{"21-01-2568", day(2025, time.January, 21)},
		{" 25670229 ", day(2024, time.February, 29)},
		{"21/01/2568 13:45", day(2025, time.January, 21).Add(13*time.Hour + 45*time.Minute)},
		{"2568-01-21 08:30:15", day(2025, time.January, 21).Add(8*time.Hour + 30*time.Minute + 15*time.Second)},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok, err := Date(tc.in)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}
}

func TestDatePlaceholders(t *testing.T) {
	for _, in := range []string{"", " ", "-", "--", "N/A", "0", "00000000", "\u00a0"} {
		got, ok, err := Date(in)
		require.NoError(t, err, in)
		assert.False(t, ok, in)
		assert.True(t, got.IsZero(), in)
	}
}

func TestDateRejectsImpossible(t *testing.T) {
	for _, in := range []string{
		"25680230",   // Feb 30
		"25681301",   // month 13
		"25660229",   // 2023 is not a leap year
		"20250121",   // Gregorian year, out of BE range
		"99990101",   // out of range
		"21/01/2568 25:99",
		"abc",
		"2568-1",
	} {
		_, _, err := Date(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrInvalidDate), in)
	}
}

func TestDateRoundTrip(t *testing.T) {
	start := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	for d := start; d.Year() < 2026; d = d.AddDate(0, 0, 13) {
		got, ok, err := Date(FormatBuddhist(d))
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, d.Equal(got), "%s != %s", d, got)
	}
}

func TestFormatBuddhist(t *testing.T) {
	assert.Equal(t, "25680122", FormatBuddhist(time.Date(2025, time.January, 22, 0, 0, 0, 0, time.UTC)))
}

func TestAmount(t *testing.T) {
	cases := []struct {
		in    string
		scale int32
		want  string
	}{
		{"1,234.50", 2, "1234.5"},
		{"(1,000.00)", 2, "-1000"},
		{"฿ 12.345", 2, "12.35"},
		{"0", 2, "0"},
		{"-15.5", 2, "-15.5"},
		{"1.23456", 4, "1.2346"},
		{"99 บาท", 2, "99"},
	}
	for _, tc := range cases {
		got, err := Amount(tc.in, tc.scale)
		require.NoError(t, err, tc.in)
		require.True(t, got.Valid, tc.in)
		assert.Equal(t, tc.want, got.Decimal.String(), tc.in)
	}

	for _, in := range []string{"", "-", "--", "N/A"} {
		got, err := Amount(in, 2)
		require.NoError(t, err)
		assert.False(t, got.Valid, in)
	}

	_, err := Amount("12a", 2)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCount(t *testing.T) {
	n, err := Count("1,200")
	require.NoError(t, err)
	assert.EqualValues(t, 1200, n)

	n, err = Count("-")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = Count("3.0")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, err = Count("2.5")
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestText(t *testing.T) {
	out, truncated := Text("  นายทดสอบ ระบบ  ", 0)
	assert.Equal(t, "นายทดสอบ ระบบ", out)
	assert.False(t, truncated)

	out, truncated = Text("กขคงจฉ", 4)
	assert.Equal(t, "กขคง", out)
	assert.True(t, truncated)

	out, truncated = Text("abcd", 4)
	assert.Equal(t, "abcd", out)
	assert.False(t, truncated)

	out, _ = Text("a\x00b", 10)
	assert.Equal(t, "ab", out)
}

func TestClean(t *testing.T) {
	assert.Equal(t, "ชดเชย สุทธิ", Clean(" ชดเชย\n\u00a0 สุทธิ "))
}
