package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "golibri",
	Short: "Golibri opens, edits, and repackages EPUB containers",
	Long: `Golibri is a CLI over the container core: it opens an EPUB
package into a working directory, lets you inspect and edit its manifest,
spine, and resources, and commits the result back to a package file.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
