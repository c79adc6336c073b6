// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command sahayak is the CLI for the MSME and GST assistant.
//
// Usage:
//
//	sahayak ingest ./docs --config sahayak.yaml
//	sahayak ask "What is the GST rate for gold?"
//	sahayak chat --profile state=Karnataka
//	sahayak serve --config sahayak.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/version"
)

// CLI defines the command-line interface.
type CLI struct {
	Ask      AskCmd      `cmd:"" help:"Answer a single question."`
	Chat     ChatCmd     `cmd:"" help:"Start an interactive conversation."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API."`
	Ingest   IngestCmd   `cmd:"" help:"Index documents into the knowledge base."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config          string   `short:"c" help:"Config file path, or the key or znode path for remote sources." env:"SAHAYAK_CONFIG"`
	ConfigType      string   `help:"Config source (file, consul, etcd, zookeeper)." default:"file" env:"SAHAYAK_CONFIG_TYPE"`
	ConfigEndpoints []string `help:"Remote config store addresses." sep:"," env:"SAHAYAK_CONFIG_ENDPOINTS"`
	LogLevel        string   `help:"Log level (debug, info, warn, error)."`
	LogFile         string   `help:"Log file path (empty = stderr)."`
	LogFormat       string   `help:"Log format (simple, verbose, json)."`
}

// VersionCmd shows version information.
type VersionCmd struct {
	JSON bool `help:"Print as JSON."`
}

func (c *VersionCmd) Run() error {
	info := version.Get()
	if c.JSON {
		return printJSON(info)
	}
	fmt.Println(info.String())
	return nil
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("sahayak"),
		kong.Description("MSME-Sahayak - agentic Q&A for MSME and GST in India"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
