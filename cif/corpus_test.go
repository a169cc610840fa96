package cif

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swallow-rail/swallow/database/dbtest"
)

const corpusSample = `{"TIPLOCDATA": [
	{"TIPLOC": "EUSTON ", "NLC": "123400", "NLCDESC": "LONDON EUSTON", "STANOX": "87701", "3ALPHA": "EUS"},
	{"TIPLOC": "       ", "NLC": "999900", "NLCDESC": "ACCOUNTANCY CODE", "STANOX": "     ", "3ALPHA": "   "},
	{"TIPLOC": "EUSTON ", "NLC": "123400", "NLCDESC": "LONDON EUSTON", "STANOX": "87701", "3ALPHA": "EUS"}
]}`

func TestIncorporateCorpusSkipsNalcoOnly(t *testing.T) {
	db, _ := dbtest.New(t)
	require.NoError(t, incorporateCorpus(db, strings.NewReader(corpusSample), false))

	var count int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM locations").Scan(&count))
	assert.Equal(t, 1, count, "nalco-only entries skipped, duplicates ignored")

	var name string
	var stanox int
	require.NoError(t, db.QueryRow("SELECT name, stanox FROM locations WHERE tiploc='EUSTON'").Scan(&name, &stanox))
	assert.Equal(t, "LONDON EUSTON", name)
	assert.Equal(t, 87701, stanox)
}

func TestIncorporateCorpusKeepsNalcoOnly(t *testing.T) {
	db, _ := dbtest.New(t)
	require.NoError(t, incorporateCorpus(db, strings.NewReader(corpusSample), true))

	var count int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM locations").Scan(&count))
	assert.Equal(t, 2, count)

	var tiploc *string
	require.NoError(t, db.QueryRow("SELECT tiploc FROM locations WHERE nalco='999900'").Scan(&tiploc))
	assert.Nil(t, tiploc)
}

func TestCorpusThenParseSharesLocations(t *testing.T) {
	db, _ := dbtest.New(t)
	require.NoError(t, incorporateCorpus(db, strings.NewReader(corpusSample), false))

	stream := header("TPS.UDFROC1.PD240101", "U") +
		tiplocInsert("BHAMNWS", "123600", "BIRMINGHAM NEW STREET", "68100", "BHM") +
		basicSchedule("N", "A12345", "240101", "240107", "1111100", "P") +
		record("LO", map[int]string{0: "EUSTON ", 8: "1200 ", 13: "1200", 27: "TB"}) +
		record("LT", map[int]string{0: "BHAMNWS", 8: "1300 ", 13: "1300", 23: "TF"}) +
		record("ZZ", nil)
	require.NoError(t, newTestParser(db).Parse(strings.NewReader(stream)))

	var stops int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM schedule_locations").Scan(&stops))
	assert.Equal(t, 2, stops)
}
