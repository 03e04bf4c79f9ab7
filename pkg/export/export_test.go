package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/dockflow/core/model"
)

var jobs = []model.RebalancingJob{
	{ID: "j1", FromStationID: "A", ToStationID: "B", BikesToMove: 8, DistanceM: 1598.72,
		ForecastTS: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), CreatedAt: time.Date(2024, 1, 1, 8, 1, 0, 0, time.UTC)},
	{ID: "j2", FromStationID: "C", ToStationID: "B", BikesToMove: 2, DistanceM: 420,
		ForecastTS: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), CreatedAt: time.Date(2024, 1, 1, 8, 1, 0, 0, time.UTC)},
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, jobs); err != nil {
		t.Fatal(err)
	}
	recs, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(recs))
	}
	if recs[1][3] != "8" || recs[1][4] != "1598.7" || recs[1][5] != "2024-01-01T08:00:00Z" {
		t.Fatalf("unexpected row %v", recs[1])
	}
}

func TestWriteJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", buf.String())
	}
	buf.Reset()
	if err := WriteJSON(&buf, jobs); err != nil {
		t.Fatal(err)
	}
	var out []model.RebalancingJob
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].BikesToMove != 8 {
		t.Fatalf("unexpected decode %+v", out)
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, "", jobs); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "FROM") || !strings.HasSuffix(out, "2 jobs, 10 bikes\n") {
		t.Fatalf("unexpected table:\n%s", out)
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, "xml", jobs); err == nil {
		t.Fatal("expected error")
	}
}
