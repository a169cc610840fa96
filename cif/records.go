// Package cif parses the fixed-width rail interchange format: 80-column
// records, two-byte record types, one transaction per file.
package cif

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/swallow-rail/swallow/database"
)

// Transaction verbs carried by AA and BS records.
const (
	TransactionNew    = 'N'
	TransactionRevise = 'R'
	TransactionDelete = 'D'
)

// cStr trims the right-hand space padding of a fixed-width field.
func cStr(s string) string {
	return strings.TrimRight(s, " ")
}

// cStrN is cStr with empty mapped to nil.
func cStrN(s string) *string {
	t := strings.TrimRight(s, " ")
	if t == "" {
		return nil
	}
	return &t
}

// cTime decodes a five-character "HHMMH" timing into half-minutes past
// midnight; the trailing H is the half-minute bit. Five spaces is absent.
func cTime(s string) (*int, error) {
	if s == "     " {
		return nil, nil
	}
	hour, err := strconv.Atoi(s[0:2])
	if err != nil {
		return nil, fmt.Errorf("bad time %q: %w", s, err)
	}
	minute, err := strconv.Atoi(s[2:4])
	if err != nil {
		return nil, fmt.Errorf("bad time %q: %w", s, err)
	}
	half := 0
	if s[4] == 'H' {
		half = 1
	}
	t := hour*120 + minute*2 + half
	return &t, nil
}

// cDate decodes a YYMMDD date (AA and BS records).
func cDate(s string) database.Date {
	return database.Date("20" + s[0:2] + "-" + s[2:4] + "-" + s[4:6])
}

// cDateDMY decodes a DDMMYY date (HD records).
func cDateDMY(s string) database.Date {
	return database.Date("20" + s[4:6] + "-" + s[2:4] + "-" + s[0:2])
}

func cNum(s string) (*int, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return nil, fmt.Errorf("bad number %q: %w", s, err)
	}
	return &n, nil
}

type Header struct {
	Identity        string
	ExtractDate     database.Date
	ExtractTime     string
	CurrentRef      string
	LastRef         string
	UpdateIndicator string // "F" full extract, "U" daily update
	Version         string
	UserStartDate   database.Date
	UserEndDate     database.Date
}

func decodeHeader(line string) Header {
	return Header{
		Identity:        line[0:20],
		ExtractDate:     cDateDMY(line[20:26]),
		ExtractTime:     line[26:30],
		CurrentRef:      line[30:37],
		LastRef:         line[37:44],
		UpdateIndicator: line[44:45],
		Version:         line[45:46],
		UserStartDate:   cDateDMY(line[46:52]),
		UserEndDate:     cDateDMY(line[52:58]),
	}
}

type Association struct {
	Transaction   byte
	UID           string
	UIDAssoc      string
	ValidFrom     database.Date
	ValidTo       database.Date
	Days          string
	Category      *string
	DateIndicator string
	Tiploc        string
	Suffix        *int
	SuffixAssoc   *int
	Type          string
	STP           string
}

func decodeAssociation(line string) (Association, error) {
	suffix, err := cNum(line[42:43])
	if err != nil {
		return Association{}, err
	}
	suffixAssoc, err := cNum(line[43:44])
	if err != nil {
		return Association{}, err
	}
	return Association{
		Transaction:   line[0],
		UID:           line[1:7],
		UIDAssoc:      line[7:13],
		ValidFrom:     cDate(line[13:19]),
		ValidTo:       cDate(line[19:25]),
		Days:          line[25:32],
		Category:      cStrN(line[32:34]),
		DateIndicator: line[34:35],
		Tiploc:        cStr(line[35:42]),
		Suffix:        suffix,
		SuffixAssoc:   suffixAssoc,
		Type:          line[45:46],
		STP:           line[77:78],
	}, nil
}

// Tiploc covers TI and TA records; Replacement is only present on TA.
type Tiploc struct {
	Tiploc      string
	NLC         string
	Name        string
	Stanox      *int
	CRS         *string
	Replacement string
}

func decodeTiploc(recordType, line string) (Tiploc, error) {
	stanox, err := cNum(line[42:47])
	if err != nil {
		return Tiploc{}, err
	}
	rec := Tiploc{
		Tiploc: cStr(line[0:7]),
		NLC:    cStr(line[9:15]),
		Name:   cStr(line[16:42]),
		Stanox: stanox,
		CRS:    cStrN(line[51:54]),
	}
	if recordType == "TA" {
		rec.Replacement = cStr(line[70:77])
	}
	return rec, nil
}

type BasicSchedule struct {
	Transaction  byte
	UID          string
	ValidFrom    database.Date
	ValidTo      database.Date
	Days         string
	BankHoliday  string
	Status       string
	Category     string
	SignallingID *string
	Headcode     *string
	Sector       string
	PowerType    *string
	TimingLoad   *string
	Speed        *string
	OpChars      string
	SeatingClass *string
	Sleepers     *string
	Reservations *string
	Catering     string
	Branding     string
	STP          string
}

func decodeBasicSchedule(line string) BasicSchedule {
	return BasicSchedule{
		Transaction:  line[0],
		UID:          line[1:7],
		ValidFrom:    cDate(line[7:13]),
		ValidTo:      cDate(line[13:19]),
		Days:         line[19:26],
		BankHoliday:  line[26:27],
		Status:       line[27:28],
		Category:     line[28:30],
		SignallingID: cStrN(line[30:34]),
		Headcode:     cStrN(line[34:38]),
		Sector:       line[47:48],
		PowerType:    cStrN(line[48:51]),
		TimingLoad:   cStrN(line[51:55]),
		Speed:        cStrN(line[55:58]),
		OpChars:      line[58:64],
		SeatingClass: cStrN(line[64:65]),
		Sleepers:     cStrN(line[65:66]),
		Reservations: cStrN(line[66:67]),
		Catering:     line[68:72],
		Branding:     line[72:76],
		STP:          line[77:78],
	}
}

type Extension struct {
	TractionClass       string
	UICCode             string
	ATOCCode            string
	ApplicableTimetable string
}

func decodeExtension(line string) Extension {
	return Extension{
		TractionClass:       line[0:4],
		UICCode:             cStr(line[4:9]),
		ATOCCode:            line[9:11],
		ApplicableTimetable: line[11:12],
	}
}

// Stop is an LO, LI or LT record. Absent fields are nil; LO carries no
// arrival and LT no departure by construction of the format.
type Stop struct {
	RecordType      string
	Tiploc          string
	TiplocInstance  *string
	Arrival         *int
	Departure       *int
	Pass            *int
	PublicArrival   *string
	PublicDeparture *string
	Platform        *string
	Line            *string
	Path            *string
	Activity        string
	EngAllowance    *string
	PathAllowance   *string
	PerfAllowance   *string
}

func decodeStop(recordType, line string) (Stop, error) {
	stop := Stop{
		RecordType:     recordType,
		Tiploc:         cStr(line[0:7]),
		TiplocInstance: cStrN(line[7:8]),
	}
	var err error
	switch recordType {
	case "LO":
		if stop.Departure, err = cTime(line[8:13]); err != nil {
			return stop, err
		}
		stop.PublicDeparture = cStrN(line[13:17])
		stop.Platform = cStrN(line[17:20])
		stop.Line = cStrN(line[20:23])
		stop.EngAllowance = cStrN(line[23:25])
		stop.PathAllowance = cStrN(line[25:27])
		stop.Activity = line[27:39]
		stop.PerfAllowance = cStrN(line[39:41])
	case "LI":
		if stop.Arrival, err = cTime(line[8:13]); err != nil {
			return stop, err
		}
		if stop.Departure, err = cTime(line[13:18]); err != nil {
			return stop, err
		}
		if stop.Pass, err = cTime(line[18:23]); err != nil {
			return stop, err
		}
		stop.PublicArrival = cStrN(line[23:27])
		stop.PublicDeparture = cStrN(line[27:31])
		stop.Platform = cStrN(line[31:34])
		stop.Line = cStrN(line[34:37])
		stop.Path = cStrN(line[37:40])
		stop.Activity = line[40:52]
		stop.EngAllowance = cStrN(line[52:54])
		stop.PathAllowance = cStrN(line[54:56])
		stop.PerfAllowance = cStrN(line[56:58])
	case "LT":
		if stop.Arrival, err = cTime(line[8:13]); err != nil {
			return stop, err
		}
		stop.PublicArrival = cStrN(line[13:17])
		stop.Platform = cStrN(line[17:20])
		stop.Path = cStrN(line[20:23])
		stop.Activity = line[23:35]
	}

	// The public timetable uses "0000" for no advertised call.
	if stop.PublicArrival != nil && *stop.PublicArrival == "0000" {
		stop.PublicArrival = nil
	}
	if stop.PublicDeparture != nil && *stop.PublicDeparture == "0000" {
		stop.PublicDeparture = nil
	}
	return stop, nil
}
