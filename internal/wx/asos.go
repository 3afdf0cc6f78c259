package wx

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// asosTimeLayout is the UTC timestamp format of the IEM "valid" column.
const asosTimeLayout = "2006-01-02 15:04"

// ParseASOS decodes an IEM ASOS CSV export into one row per station,
// keeping only the most recent observation by parsed timestamp. Comment
// lines ("#...") are skipped, "M" marks a missing value, and rows with an
// unparseable timestamp are dropped individually rather than failing the
// batch.
func ParseASOS(r io.Reader) ([]ASOSRow, error) {
	filtered, err := stripComments(r)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(filtered)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("error reading ASOS header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["station"]; !ok {
		return nil, fmt.Errorf("ASOS response missing station column")
	}

	latest := make(map[string]ASOSRow)
	var order []string

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading ASOS row: %w", err)
		}

		row, ok := parseASOSRecord(record, col)
		if !ok {
			continue
		}

		prev, seen := latest[row.Station]
		if !seen {
			order = append(order, row.Station)
			latest[row.Station] = row
			continue
		}
		if row.Valid.After(prev.Valid) {
			latest[row.Station] = row
		}
	}

	rows := make([]ASOSRow, 0, len(order))
	for _, station := range order {
		rows = append(rows, latest[station])
	}
	return rows, nil
}

func parseASOSRecord(record []string, col map[string]int) (ASOSRow, bool) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	station := field("station")
	if station == "" {
		return ASOSRow{}, false
	}

	valid, err := time.Parse(asosTimeLayout, field("valid"))
	if err != nil {
		return ASOSRow{}, false
	}

	row := ASOSRow{
		Station: station,
		Valid:   valid.UTC(),
		Vsby:    asosFloat(field("vsby")),
		WDir:    asosFloat(field("wdir")),
		Sped:    asosFloat(field("sped")),
		Gust:    asosFloat(field("gust")),
		TmpF:    asosFloat(field("tmpf")),
	}
	for i := 0; i < 4; i++ {
		n := strconv.Itoa(i + 1)
		if cover := field("skyc" + n); cover != "" && cover != "M" {
			row.SkyC[i] = cover
		}
		row.SkyL[i] = asosFloat(field("skyl" + n))
	}
	return row, true
}

// asosFloat parses an IEM numeric field, treating "", "M" (missing) and
// "T" (trace) as absent.
func asosFloat(s string) *float64 {
	if s == "" || s == "M" || s == "T" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// stripComments filters "#"-prefixed diagnostic lines the IEM service
// prepends to its CSV output. A read failure (including a line over the
// buffer limit) fails the batch rather than truncating it.
func stripComments(r io.Reader) (io.Reader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var b strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading ASOS response: %w", err)
	}
	return strings.NewReader(b.String()), nil
}

// ASOSStationID maps a dashboard station id to the IEM identifier: the
// leading "K" of a 4-letter ICAO id is stripped for this source only.
func ASOSStationID(id string) string {
	if len(id) == 4 && strings.HasPrefix(id, "K") {
		return id[1:]
	}
	return id
}
