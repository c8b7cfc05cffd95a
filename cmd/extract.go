package cmd

import (
	"github.com/spf13/cobra"
)

// extractCmd restores matching files below the current directory.
var extractCmd = &cobra.Command{
	Use:   "extract [files...]",
	Short: "Extract files from the archive",
	Long: `Extracts every file whose name or archive segment matches one of the given
glob patterns (all files when none are given) into the current directory.

When a file was archived more than once only the latest copy is extracted.
Files already on disk with the same size and modification time are not
rewritten, but their archived content is still verified. Every file's md5 is
checked against the index and failures are reported at the end.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRetrieve(cmd.Context(), args, true)
	},
}

// checkCmd verifies matching files without writing them.
var checkCmd = &cobra.Command{
	Use:   "check [files...]",
	Short: "Verify archived files against their checksums",
	Long: `Streams every matching file out of its archive segment and compares its md5
with the index, without writing anything below the current directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRetrieve(cmd.Context(), args, false)
	},
}

func init() {
	addRetrieveFlags(extractCmd)
	addRetrieveFlags(checkCmd)
}
