package database_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swallow-rail/swallow/database"
)

func TestDateScan(t *testing.T) {
	var d database.Date
	require.NoError(t, d.Scan(time.Date(2024, 1, 3, 14, 30, 0, 0, time.UTC)))
	assert.Equal(t, database.Date("2024-01-03"), d)

	require.NoError(t, d.Scan("2024-01-04"))
	assert.Equal(t, database.Date("2024-01-04"), d)

	require.NoError(t, d.Scan([]byte("2024-01-05")))
	assert.Equal(t, database.Date("2024-01-05"), d)

	require.NoError(t, d.Scan(nil))
	assert.Equal(t, database.Date(""), d)

	assert.Error(t, d.Scan(42))
}

func TestDateValue(t *testing.T) {
	v, err := database.Date("2024-01-03").Value()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03", v)
}

func TestDateArithmetic(t *testing.T) {
	d := database.Date("2024-01-01")
	assert.Equal(t, database.Date("2024-01-15"), d.AddDays(14))
	assert.Equal(t, database.Date("2023-12-31"), d.AddDays(-1))
	assert.Equal(t, 14, d.DaysUntil(database.Date("2024-01-15")))
	assert.Equal(t, -1, d.DaysUntil(database.Date("2023-12-31")))
}

func TestDateWeekdayIndex(t *testing.T) {
	// 2024-01-01 was a Monday.
	for i, date := range []database.Date{
		"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04",
		"2024-01-05", "2024-01-06", "2024-01-07",
	} {
		assert.Equal(t, i, date.WeekdayIndex(), date)
	}
}

func TestDateOrderingIsLexical(t *testing.T) {
	assert.True(t, database.Date("2024-01-02") < database.Date("2024-01-10"))
	assert.True(t, database.Date("2024-01-31") < database.Date("2024-02-01"))
	assert.True(t, database.Date("2024-12-31") < database.Date("2025-01-01"))
}

func TestDateMidnight(t *testing.T) {
	midnight, err := database.Date("2024-01-03").Midnight()
	require.NoError(t, err)
	want := time.Date(2024, 1, 3, 0, 0, 0, 0, time.Local).Unix()
	assert.Equal(t, want, midnight)

	// Half-minute 1441 is 12:00:30 on the day.
	at := time.Unix(midnight+1441*30, 0)
	assert.Equal(t, "12:00:30", at.Format("15:04:05"))
}
