// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// env_config writes the list of environment variables that override the
// callsignald config file.
package main

import (
	"log"
	"os"
	"text/tabwriter"

	"github.com/mattermost/callsignal/service"

	"github.com/kelseyhightower/envconfig"
)

const usageFormat = "### Config Environment Overrides\n\n" +
	"Every setting of `config/config.sample.toml` can be overridden with the variables below.\n\n" +
	"```\nKEY\tTYPE\tDEFAULT\n{{range .}}{{usage_key .}}\t{{usage_type .}}\t{{usage_default .}}\n{{end}}```\n"

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: env_config <output file>")
	}

	outFile, err := os.OpenFile(os.Args[1], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatalf("failed to open file: %s", err.Error())
	}
	defer outFile.Close()

	tabs := tabwriter.NewWriter(outFile, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef("callsignald", &service.Config{}, tabs, usageFormat); err != nil {
		log.Fatalf("failed to generate usage: %s", err.Error())
	}
	if err := tabs.Flush(); err != nil {
		log.Fatalf("failed to write file: %s", err.Error())
	}
}
