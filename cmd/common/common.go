// Package common contains common flags
package common

import (
	"flag"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
)

var (
	// FlagHelp is used to request the help screen
	FlagHelp = flag.Bool("help", false, "Print usage")

	// FlagVerbose enables logging of every socket event
	FlagVerbose = flag.Bool("verbose", false, "Log every socket event")
)

// SetupLogging configures apex/log for command line usage.
func SetupLogging() {
	log.SetHandler(cli.Default)
	log.SetLevel(log.InfoLevel)
	if *FlagVerbose {
		log.SetLevel(log.DebugLevel)
	}
}
