package commands

import (
	"fmt"
	"os"

	"github.com/jianyun8023/golibri/container"
	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:   "compare <a.epub> <b.epub>",
	Short: "Report the structural difference between two books",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := container.OpenEPUB(args[0], container.Options{})
		if err != nil {
			return err
		}
		defer os.RemoveAll(a.Root())

		b, err := container.OpenEPUB(args[1], container.Options{})
		if err != nil {
			return err
		}
		defer os.RemoveAll(b.Root())

		report, err := a.CompareTo(b.Container)
		if err != nil {
			return err
		}

		if report.Empty() {
			fmt.Println("no differences")
			return nil
		}
		for _, n := range report.OnlyInA {
			fmt.Printf("only in %s: %s\n", args[0], n)
		}
		for _, n := range report.OnlyInB {
			fmt.Printf("only in %s: %s\n", args[1], n)
		}
		for _, n := range report.Differ {
			fmt.Printf("differs: %s\n", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)
}
