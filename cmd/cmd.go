package cmd

import (
	"github.com/spf13/cobra"

	"github.com/castfetch/castfetch/cmd/batch"
	"github.com/castfetch/castfetch/cmd/review"
	"github.com/castfetch/castfetch/cmd/root"
	"github.com/castfetch/castfetch/cmd/version"
)

func GetRootCommand() *cobra.Command {
	rootCMD := root.GetCommand()
	rootCMD.AddCommand(batch.GetCommand())
	rootCMD.AddCommand(review.GetCommand())
	rootCMD.AddCommand(version.GetCommand())
	return rootCMD
}
