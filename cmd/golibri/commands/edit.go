package commands

import (
	"fmt"
	"os"

	"github.com/jianyun8023/golibri/container"
	"github.com/spf13/cobra"
)

var (
	editOutput string
	editAdd    []string // "name=path" pairs
	editRemove []string
	editRename []string // "current=new" pairs
)

var editCmd = &cobra.Command{
	Use:   "edit <book.epub>",
	Short: "Add, remove, or rename resources and commit the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputPath := args[0]
		outputPath := editOutput
		if outputPath == "" {
			outputPath = inputPath
		}

		book, err := container.OpenEPUB(inputPath, container.Options{})
		if err != nil {
			return fmt.Errorf("opening %s: %w", inputPath, err)
		}
		defer os.RemoveAll(book.Root())

		for _, spec := range editAdd {
			name, srcPath, ok := splitPair(spec, '=')
			if !ok {
				return fmt.Errorf("invalid --add %q, expected name=path", spec)
			}
			data, err := os.ReadFile(srcPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", srcPath, err)
			}
			if err := book.AddFile(name, data, ""); err != nil {
				return fmt.Errorf("adding %s: %w", name, err)
			}
		}

		for _, name := range editRemove {
			if err := book.RemoveItem(name, true); err != nil {
				return fmt.Errorf("removing %s: %w", name, err)
			}
		}

		for _, spec := range editRename {
			current, newName, ok := splitPair(spec, '=')
			if !ok {
				return fmt.Errorf("invalid --rename %q, expected current=new", spec)
			}
			if err := book.Rename(current, newName); err != nil {
				return fmt.Errorf("renaming %s: %w", current, err)
			}
		}

		if err := book.Commit(outputPath, false); err != nil {
			return fmt.Errorf("committing to %s: %w", outputPath, err)
		}
		fmt.Printf("wrote %s\n", outputPath)
		return nil
	},
}

func splitPair(s string, sep byte) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func init() {
	editCmd.Flags().StringVarP(&editOutput, "output", "o", "", "output path (defaults to the input path)")
	editCmd.Flags().StringArrayVar(&editAdd, "add", nil, "name=path of a file to add, repeatable")
	editCmd.Flags().StringArrayVar(&editRemove, "remove", nil, "name of a manifest resource to remove, repeatable")
	editCmd.Flags().StringArrayVar(&editRename, "rename", nil, "current=new name to rename, repeatable")
	rootCmd.AddCommand(editCmd)
}
