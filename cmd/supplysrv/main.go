// Command supplysrv serves the spectrometer supply crates over HTTP.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/speem-lab/gosupply/multisupply"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "supplysrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(multisupply.Config{
		Addr:     ":8000",
		Supplies: []multisupply.ObjSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `supplysrv communicates with the spectrometer supply crates and exposes an
HTTP interface to them.  This enables a server-client architecture, and the
clients can leverage the excellent HTTP libraries for any programming language.

Usage:
	supplysrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `supplysrv is amenable to configuration via its .yaml file.  For a primer on
YAML, see https://yaml.org/start.html

Without a configuration, the server will close immediately and display an
error that there are no supplies.

No two supplies can have the same endpoint.

Supply families and matching "family" fields:
- HVC20 high voltage crate (serial or TCP) "hvc20"
- Rudi modular chassis (Modbus TCP) "rudi"
- in-memory simulator, for bench work with nothing connected "sim"

Every supply needs a "table" pointing at its description yaml (electrode
definitions, calibrations, lens tables).  The hvc20 family takes an optional
"units" list of crate unit ids; leave it out for a fully populated crate.`
	fmt.Println(str)
}

func mkconf() {
	c := multisupply.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := multisupply.Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("supplysrv version %v\n", Version)
}

func run() {
	c := multisupply.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	if len(c.Supplies) == 0 {
		log.Fatal("no supplies configured; run mkconf and edit ", ConfigFileName)
	}
	group, err := c.Build()
	if err != nil {
		log.Fatal(err)
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGABRT, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-ch
		group.FinalizeAll()
		os.Exit(0)
	}()
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, group.Mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
