package commands

import (
	"fmt"
	"os"

	"github.com/jianyun8023/golibri/container"
	"github.com/spf13/cobra"
)

var inspectSpine bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <book.epub>",
	Short: "Open a book and print its file inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		book, err := container.OpenEPUB(args[0], container.Options{})
		if err != nil {
			return err
		}
		defer os.RemoveAll(book.Root())

		if inspectSpine {
			for _, item := range book.SpineIter() {
				linear := "linear"
				if !item.Linear {
					linear = "non-linear"
				}
				fmt.Printf("%s\t%s\n", item.Name, linear)
			}
			return nil
		}

		for _, name := range book.Names() {
			mt, _ := book.MimeOf(name)
			marker := " "
			if name == book.OPFName() {
				marker = "*"
			}
			fmt.Printf("%s %-40s %s\n", marker, name, mt)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectSpine, "spine", false, "print reading order instead of the full inventory")
	rootCmd.AddCommand(inspectCmd)
}
