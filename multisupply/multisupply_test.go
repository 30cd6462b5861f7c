package multisupply_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/speem-lab/gosupply/multisupply"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func benchConfig(t *testing.T) multisupply.Config {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "defs.csv", "name,address,ramp,description\nV01,1,-1,extractor\nD07,D7,-1,deflector\n")
	writeFile(t, dir, "cal.csv", "name,offset,maximum\nV01,0,1000\n")
	writeFile(t, dir, "lens.csv", "name,V01,D07\nimaging,500,1.0\n")
	tablePath := writeFile(t, dir, "supply.yml", `name: bench
lv_calibration: 1.0e-5
definitions_file: defs.csv
hv_calibration_file: cal.csv
lens_table_file: lens.csv
`)
	return multisupply.Config{
		Addr: ":0",
		Supplies: []multisupply.ObjSetup{
			{URL: "/bench", Family: "sim", Table: tablePath},
		},
	}
}

func TestBuildAndServe(t *testing.T) {
	group, err := benchConfig(t).Build()
	if err != nil {
		t.Fatal(err)
	}
	defer group.FinalizeAll()
	srv := httptest.NewServer(group.Mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/endpoints")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var graph map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&graph); err != nil {
		t.Fatal(err)
	}
	routes, ok := graph["/bench"]
	if !ok {
		t.Fatalf("supergraph missing /bench: %v", graph)
	}
	if len(routes) == 0 {
		t.Error("no routes listed for /bench")
	}

	// routes are reachable under the stem
	body, _ := json.Marshal(map[string]interface{}{"name": "imaging"})
	post, err := http.Post(srv.URL+"/bench/lens-table", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusOK {
		t.Errorf("apply lens table through the mux: status %d", post.StatusCode)
	}
}

func TestBuildRejectsUnknownFamily(t *testing.T) {
	cfg := benchConfig(t)
	cfg.Supplies[0].Family = "frobnicator"
	if _, err := cfg.Build(); err == nil {
		t.Error("expected an error for an unknown family")
	}
}

func TestBuildFailsWhenCrateUnreachable(t *testing.T) {
	cfg := benchConfig(t)
	cfg.Supplies[0].Family = "hvc20"
	cfg.Supplies[0].Addr = "127.0.0.1:1"
	if _, err := cfg.Build(); err == nil {
		t.Error("expected an error when the crate cannot be reached")
	}
}

func TestFinalizeAllIdempotent(t *testing.T) {
	group, err := benchConfig(t).Build()
	if err != nil {
		t.Fatal(err)
	}
	group.FinalizeAll()
	group.FinalizeAll()
}
