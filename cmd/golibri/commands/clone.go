package commands

import (
	"fmt"
	"os"

	"github.com/jianyun8023/golibri/container"
	"github.com/spf13/cobra"
)

var cloneWorkDir string

var cloneCmd = &cobra.Command{
	Use:   "clone <book.epub> <clone.epub>",
	Short: "Clone a book's working tree via hard links and repackage the copy",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		book, err := container.OpenEPUB(args[0], container.Options{})
		if err != nil {
			return err
		}
		defer os.RemoveAll(book.Root())

		workDir := cloneWorkDir
		if workDir == "" {
			var err error
			workDir, err = os.MkdirTemp("", "golibri-clone-*")
			if err != nil {
				return err
			}
		}

		clone, err := book.Clone(workDir, container.Options{})
		if err != nil {
			return fmt.Errorf("cloning: %w", err)
		}
		defer os.RemoveAll(clone.Root())

		if err := clone.Commit(args[1], false); err != nil {
			return fmt.Errorf("committing clone to %s: %w", args[1], err)
		}
		fmt.Printf("cloned %s into %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	cloneCmd.Flags().StringVar(&cloneWorkDir, "work-dir", "", "working directory for the clone (defaults to a fresh temp dir)")
	rootCmd.AddCommand(cloneCmd)
}
