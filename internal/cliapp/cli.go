package cliapp

import "flag"

const versionString = "1.0.0"
const defaultConfigPath = "./singbox-rules.toml"

type cliOptions struct {
	configPath string
	build      bool
	watch      bool
	verbose    bool
	version    bool
	args       []string
}

func parseOptions(args []string) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("singbox-rules", flag.ContinueOnError)

	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file")
	fs.BoolVar(&opts.build, "build", false, "Fetch sources and rebuild rule-set JSON before compiling")
	fs.BoolVar(&opts.watch, "watch", false, "Keep running and recompile when the JSON directory changes")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}

	opts.args = fs.Args()
	return opts, nil
}
