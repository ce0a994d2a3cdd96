package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kappal-app/agentstack/pkg/transform"
	"github.com/spf13/cobra"
)

var (
	ejectFormat string
	ejectOutput string
)

var ejectCmd = &cobra.Command{
	Use:   "eject",
	Short: "Export the resolved stack for other tools",
	Long: `Export the resolved configuration so the stack can run without agentstack.

With --format compose (default) a compose.yaml is written that "docker compose
up" can run directly: images, ports, environment, bind mounts and the init
flag are the resolved values.

With --format kubernetes the stack is written as one multi-document YAML
file: a Namespace, and per service a Deployment and a Service. The mounted
credentials file becomes a Secret, the workspace directory a
PersistentVolumeClaim. Without -o the manifests go to .agentstack/manifests.

Both exports embed resolved secrets. Treat the files accordingly.

Flags:
  --format <fmt>       compose (default) or kubernetes
  -o, --output <dir>   Output directory (default: project directory)

Examples:
  agentstack eject                               Write ./compose.yaml
  agentstack eject --format kubernetes -o k8s    Write ./k8s/agentstack.yaml`,
	RunE: runEject,
}

func init() {
	ejectCmd.Flags().StringVar(&ejectFormat, "format", "compose", "Export format (compose, kubernetes)")
	ejectCmd.Flags().StringVarP(&ejectOutput, "output", "o", "", "Output directory")
}

func runEject(cmd *cobra.Command, args []string) error {
	proj, err := loadProject(true)
	if err != nil {
		return err
	}
	plan, err := proj.compose()
	if err != nil {
		return err
	}
	t := transform.NewTransformer(plan)

	var (
		content []byte
		name    string
	)
	switch ejectFormat {
	case "compose":
		content, err = t.ComposeYAML()
		name = "compose.yaml"
		if ejectOutput == "" {
			ejectOutput = proj.Dir
		}
	case "kubernetes":
		if ejectOutput == "" {
			if err := t.GenerateManifests(proj.Workspace); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", filepath.Join(proj.Workspace.ManifestDir, "all.yaml"))
			return nil
		}
		var manifests []transform.Manifest
		manifests, err = t.KubernetesManifests()
		content = transform.Combine(manifests)
		name = "agentstack.yaml"
	default:
		return fmt.Errorf("unknown format %q (want compose or kubernetes)", ejectFormat)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(ejectOutput, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(ejectOutput, name)
	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
