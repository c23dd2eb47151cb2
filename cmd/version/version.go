package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/castfetch/castfetch/pkg/version"
)

const VersionCMDName = "version"

func GetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   VersionCMDName,
		Short: "print version and build information",
		Long:  "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "castfetch Version %s - Build Time %s\n", info, info.BuildTime)
		},
	}
}
