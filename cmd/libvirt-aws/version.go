package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/libvirt-aws/libvirt-aws/internal/buildinfo"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints out libvirt-aws version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf(`GitCommit: %s
ReleaseVersion: %s
BuildTime: %s
`,
				buildinfo.GitCommit,
				buildinfo.ReleaseVersion,
				buildinfo.BuildTime,
			)
		},
	}
}
