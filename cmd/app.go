package cmd

import "github.com/urfave/cli/v3"

// App creates the root command
func App() *cli.Command {
	return &cli.Command{
		Name:  "selfprove",
		Usage: "Self identity proving client for attested TEE provers",
		Flags: GlobalFlags(),
		Commands: []*cli.Command{
			ProveCommand(),
			DocumentCommand(),
			KeygenCommand(),
			SelectorCommand(),
			AttestationCommand(),
			OFACCommand(),
			VerifyCommand(),
			ServeCommand(),
		},
	}
}
