// libvirt-aws serves an AWS-compatible EC2/Route 53/SSM control-plane
// surface backed by a local libvirt hypervisor.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:        "libvirt-aws",
	Short:      "AWS-compatible control plane backed by libvirt",
	SuggestFor: []string{"libvirtaws"},
}

func init() {
	cobra.EnablePrefixMatching = true
}

func init() {
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "libvirt-aws failed %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
