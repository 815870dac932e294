package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"burst-sched/internal/host"
	"burst-sched/internal/sss"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Show the host CPU topology and its placement partition",
	Long:  "Discover the host's CPUs, capacities and cache domains and show how placement partitions them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showTopology()
	},
}

func showTopology() error {
	h, err := host.GetTopology()
	if err != nil {
		return fmt.Errorf("failed to discover host topology: %w", err)
	}

	topo := sss.NewTopology(h.Present, h.Capacities, h.SMT, h.LLC)

	fmt.Printf("Host:       %s\n", h.Hostname)
	fmt.Printf("Kernel:     %s\n", h.KernelVersion)
	fmt.Printf("OS:         %s\n", h.OSInfo)
	fmt.Printf("CPUs:       %s\n", host.FormatCPUList(h.Present))
	fmt.Println()

	for _, cpu := range h.Present.SortedMembers() {
		class := "high-perf"
		if topo.LowPower().Has(cpu) {
			class = "low-power"
		}
		llc := "-"
		if domain := topo.LLCDomain(cpu); domain != nil {
			llc = host.FormatCPUList(domain)
		}
		fmt.Printf("cpu%-4d capacity=%-5d class=%-9s smt=%-10s llc=%s\n",
			cpu, topo.Capacity(cpu), class,
			host.FormatCPUList(topo.SMTSiblings(cpu)), llc)
	}

	fmt.Println()
	fmt.Printf("Low-power:  %s\n", host.FormatCPUList(topo.LowPower()))
	fmt.Printf("High-perf:  %s\n", host.FormatCPUList(topo.HighPerf()))
	fmt.Printf("Asymmetric: %v\n", topo.Asymmetric())
	return nil
}
