package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/bfree-trainer/bfree/internal/device"
	"github.com/bfree-trainer/bfree/internal/registry"
	"github.com/bfree-trainer/bfree/pkg/config"
	"github.com/spf13/cobra"
)

// rolesCmd lists the roles that can be paired
var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List sensor roles",
	Long: `Lists the built-in sensor roles with the services they are discovered by
and the characteristics kept subscribed, followed by roles defined only in
the config file.`,
	Args: cobra.NoArgs,
	RunE: runRoles,
}

func runRoles(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	return displayRolesTable(cmd.OutOrStdout(), cfg)
}

func displayRolesTable(out io.Writer, cfg *config.Config) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tSERVICES\tCHARACTERISTICS\tDESCRIPTION")

	for _, role := range registry.BuiltinRoles() {
		chars := make([]string, 0, len(role.Characteristics))
		for _, c := range role.Characteristics {
			chars = append(chars, displayUUID(c.Characteristic))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", role.Name, displayUUIDs(role.Services), strings.Join(chars, ","), role.Description)
	}

	for _, name := range cfg.RoleNames() {
		if _, ok := registry.LookupRole(name); ok {
			continue
		}
		rc := cfg.Roles[name]
		chars := make([]string, 0, len(rc.Characteristics))
		for _, c := range rc.Characteristics {
			chars = append(chars, displayUUID(c.Characteristic))
		}
		services := displayUUIDs(rc.Services)
		if rc.Any {
			services = "any"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, services, strings.Join(chars, ","), "(config)")
	}

	return w.Flush()
}

// displayUUID prefers the GATT name over the raw UUID
func displayUUID(uuid string) string {
	if name := device.KnownName(uuid); name != "" {
		return name
	}
	u := device.NormalizeUUID(uuid)
	if len(u) > 8 {
		return u[:8]
	}
	return u
}

func displayUUIDs(uuids []string) string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = displayUUID(u)
	}
	return strings.Join(out, ",")
}
