// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package renderconfig reads a bigrender session configuration from
// a shared profile. Renderconfig uses the configuration mechanism in
// package github.com/grailbio/base/config, and reads a default
// profile from $HOME/.bigrender/config.
package renderconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/bigrender/cluster"
)

// Path determines the location of the bigrender profile read by
// Parse.
var Path = os.ExpandEnv("$HOME/.bigrender/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// the bigrender configuration from Path, as amended by any flags
// provided. Parse panics if the configuration is invalid.
func Parse() *cluster.Config {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	var cfg *cluster.Config
	config.Must("bigrender", &cfg)
	return cfg
}
