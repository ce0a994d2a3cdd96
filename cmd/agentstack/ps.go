package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kappal-app/agentstack/pkg/docker"
	"github.com/kappal-app/agentstack/pkg/stack"
	"github.com/kappal-app/agentstack/pkg/state"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var psFormat string

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List containers",
	Long: `List the services of the project and their container status.

Containers are discovered from Docker by their project labels. Services that
have no container are listed as "missing". By default outputs a table; use
-o json or -o yaml for machine-readable output.

Table columns:
  NAME       Service name (frontend, backend)
  CONTAINER  Container name
  IMAGE      Image the service runs
  STATUS     running, stopped or missing
  PORTS      Published host:container port mappings

Flags:
  -o, --format <fmt>   Output format: table (default), json, yaml
  -p <name>            Override project name

Examples:
  agentstack ps              Table view of both services
  agentstack ps -o json      JSON output for scripting`,
	RunE: runPs,
}

func init() {
	psCmd.Flags().StringVarP(&psFormat, "format", "o", "table", "Output format (table, json, yaml)")
}

func runPs(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	proj, err := loadProject(false)
	if err != nil {
		return err
	}
	var plan *stack.Plan
	if proj.Workspace != nil {
		if plan, err = proj.Workspace.ReadPlan(); err != nil {
			return err
		}
	}
	if plan == nil || plan.Project != proj.Name {
		plan = declaredPlan(proj)
	}

	dockerClient, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = dockerClient.Close() }()

	discovered, err := state.Discover(ctx, dockerClient, proj.Name)
	if err != nil {
		return err
	}
	return writeServices(os.Stdout, psFormat, state.MergePlan(discovered, plan))
}

// declaredPlan is the service list of a project that has never been
// started, without resolving any environment.
func declaredPlan(proj *project) *stack.Plan {
	plan := &stack.Plan{Project: proj.Name, Network: stack.NetworkName(proj.Name)}
	for _, d := range proj.declared() {
		image := d.Build.Image
		if image == "" {
			image = stack.ImageName(proj.Name, d.Name)
		}
		plan.Services = append(plan.Services, stack.ServiceDescriptor{Name: d.Name, Image: image})
	}
	return plan
}

func writeServices(w io.Writer, format string, services []state.ServiceInfo) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(services)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(services); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Name", "Container", "Image", "Status", "Ports"})
		table.SetAutoWrapText(false)
		table.SetAutoFormatHeaders(true)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		for _, s := range services {
			table.Append([]string{s.Name, s.Container, s.Image, s.Status, formatPorts(s.Ports)})
		}
		table.Render()
		return nil
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

func formatPorts(ports []state.PortInfo) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, fmt.Sprintf("%d->%d/%s", p.Host, p.Container, p.Protocol))
	}
	return strings.Join(parts, ", ")
}
