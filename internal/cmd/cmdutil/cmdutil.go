// Package cmdutil holds flag and output helpers shared by ratify commands.
package cmdutil

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/ratify/internal/cmd/application"
	"github.com/agentstation/ratify/internal/cmd/output"
	"github.com/agentstation/ratify/pkg/errors"
)

// ProjectFlag is the name of the --project flag.
const ProjectFlag = "project"

// AddProjectFlag adds a required --project/-p flag.
func AddProjectFlag(cmd *cobra.Command) {
	cmd.Flags().StringP(ProjectFlag, "p", "", "Project ID")
	_ = cmd.MarkFlagRequired(ProjectFlag)
}

// Project returns the --project value.
func Project(cmd *cobra.Command) (string, error) {
	p := MustGetString(cmd, ProjectFlag)
	if p == "" {
		return "", errors.NewValidationError("project", p, "is required")
	}
	return p, nil
}

// Print renders data in the application's output format.
func Print(cmd *cobra.Command, app application.Application, data any) error {
	format, err := output.ParseFormat(app.OutputFormat())
	if err != nil {
		return err
	}
	return output.NewFormatter(output.DetectFormat(string(format))).Format(cmd.OutOrStdout(), data)
}

// MustGetString retrieves a string flag value or panics if the flag doesn't exist.
// This should only be used for flags defined by the calling command.
func MustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// MustGetBool retrieves a boolean flag value or panics if the flag doesn't exist.
func MustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// MustGetInt retrieves an integer flag value or panics if the flag doesn't exist.
func MustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// MustGetFloat64 retrieves a float flag value or panics if the flag doesn't exist.
func MustGetFloat64(cmd *cobra.Command, name string) float64 {
	val, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// MustGetStringSlice retrieves a string slice flag value or panics if the flag doesn't exist.
func MustGetStringSlice(cmd *cobra.Command, name string) []string {
	val, err := cmd.Flags().GetStringSlice(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// MustGetDuration retrieves a duration flag value or panics if the flag doesn't exist.
func MustGetDuration(cmd *cobra.Command, name string) time.Duration {
	val, err := cmd.Flags().GetDuration(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}
