package main

import (
	"github.com/alecthomas/kong"
	log "github.com/sirupsen/logrus"
)

var arguments struct {
	Conf   string `help:"Path to config file (jsonc - JSON with comments)." type:"existingfile" optional:""`
	Listen string `help:"Listen address for the store server, overrides the config file." default:""`
}

func main() {
	kong.Parse(&arguments)
	r := &runner{}
	if err := r.run(arguments.Conf, arguments.Listen, true); err != nil {
		log.Fatalf("%+v", err)
	}
	select {} // prevent main exiting
}
