package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandboxfs/sandboxfs/pkg/sandboxfs"
)

func rootMain(command *cobra.Command, _ []string) {
	if rootConfiguration.version {
		fmt.Println(sandboxfs.Version)
		return
	}

	if rootConfiguration.legal {
		fmt.Print(sandboxfs.LegalNotice)
		return
	}

	command.Help()
}

var rootCommand = &cobra.Command{
	Use:   "sandboxfsd",
	Short: "sandboxfsd confines filesystem operations to a workspace for untrusted automation agents",
	Run:   rootMain,
}

var rootConfiguration struct {
	version bool
	legal   bool
}

func init() {
	flags := rootCommand.Flags()
	flags.BoolVarP(&rootConfiguration.version, "version", "v", false, "Show version information")
	flags.BoolVarP(&rootConfiguration.legal, "legal", "l", false, "Show legal information")

	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""

	rootCommand.AddCommand(serveCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fatal(err)
	}
}
