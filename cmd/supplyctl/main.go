// Command supplyctl is the operator CLI for a single supply crate: link
// tests, zeroing, and identification without standing up the full server.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/theckman/yacspin"

	"github.com/speem-lab/gosupply/multisupply"
	"github.com/speem-lab/gosupply/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "supplyctl.yml"
)

func root() {
	str := `supplyctl talks to one supply crate for bench checks.  The crate is
described by a yaml file holding a single supply entry, the same shape as one
element of supplysrv's supplies list.

Usage:
	supplyctl <command> [config]

config defaults to ` + ConfigFileName + `

Commands:
	test    walk every unit in the crate and report link health
	zero    drive every electrode to zero volts in one burst
	info    print the crate identification string
	mkconf  write a skeleton config
	version
	help`
	fmt.Println(str)
}

func help() {
	str := `supplyctl expects a yaml file such as

	addr: 192.168.100.40:2001
	serial: false
	family: hvc20
	table: speem-table.yml
	units: [0, 1, 2]

family is one of "hvc20", "rudi", or "sim".  The sim family needs no
hardware and is useful for validating a description table before a run.`
	fmt.Println(str)
}

func mkconf() {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	setup := multisupply.ObjSetup{
		Addr:   "192.168.100.40:2001",
		Family: "sim",
		Table:  "speem-table.yml",
		Units:  []int{0},
	}
	if err := yaml.NewEncoder(f).Encode(setup); err != nil {
		log.Fatal(err)
	}
}

func loadSetup(path string) multisupply.ObjSetup {
	setup := multisupply.ObjSetup{}
	f, err := os.Open(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&setup); err != nil {
		log.Fatal(err)
	}
	return setup
}

func spinner(suffix string) *yacspin.Spinner {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " " + suffix,
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	return s
}

func test(path string) {
	inst, err := multisupply.BuildSupply(loadSetup(path), 0)
	if err != nil {
		log.Fatal(err)
	}
	sess := inst.Session()
	defer sess.Finalize()

	spin := spinner("testing units")
	spin.Start()
	results, err := sess.TestAllUnits()
	spin.Stop()
	if err != nil {
		log.Fatal(err)
	}
	var bad []int
	for _, res := range results {
		if !res.OK {
			bad = append(bad, res.ID)
		}
	}
	if len(bad) > 0 {
		log.Fatalf("%d of %d unit(s) failed the link test: %s",
			len(bad), len(results), util.IntSliceToCSV(bad))
	}
	fmt.Printf("all %d unit(s) responding\n", len(results))
}

func zero(path string) {
	inst, err := multisupply.BuildSupply(loadSetup(path), 0)
	if err != nil {
		log.Fatal(err)
	}
	defer inst.Session().Finalize()

	spin := spinner("zeroing electrodes")
	spin.Start()
	err = inst.ZeroAll()
	spin.Stop()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%d electrode(s) at zero volts\n", len(inst.Table().Defs))
}

func info(path string) {
	inst, err := multisupply.BuildSupply(loadSetup(path), 0)
	if err != nil {
		log.Fatal(err)
	}
	sess := inst.Session()
	defer sess.Finalize()
	str, err := sess.LibInfo()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(str)
}

func pversion() {
	fmt.Printf("supplyctl version %v\n", Version)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd := strings.ToLower(args[1])
	path := ConfigFileName
	if len(args) > 2 {
		path = args[2]
	}
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "test":
		test(path)
	case "zero":
		zero(path)
	case "info":
		info(path)
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
