// wp2updatectl is a CLI collaborator over the wp2update admin API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var apiAddr string

func main() {
	root := &cobra.Command{
		Use:           "wp2updatectl",
		Short:         "Manage GitHub-delivered packages through a wp2update server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiAddr, "addr", "http://127.0.0.1:8080", "wp2update server address")

	root.AddCommand(
		checkCmd(),
		installCmd(),
		rollbackCmd(),
		statusCmd(),
		reposCmd(),
		packagesCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "List packages with newer releases available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var candidates []struct {
				Slug             string `json:"slug"`
				Repository       string `json:"repository"`
				InstalledVersion string `json:"installed_version"`
				AvailableVersion string `json:"available_version"`
				Prerelease       bool   `json:"prerelease"`
			}
			if err := apiGet("/api/v1/updates", &candidates); err != nil {
				return err
			}

			if len(candidates) == 0 {
				fmt.Println("everything is up to date")
				return nil
			}
			for _, c := range candidates {
				suffix := ""
				if c.Prerelease {
					suffix = " (prerelease)"
				}
				fmt.Printf("%s\t%s\t%s -> %s%s\n", c.Slug, c.Repository, c.InstalledVersion, c.AvailableVersion, suffix)
			}
			return nil
		},
	}
}

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <slug> <version>",
		Short: "Install a specific release of a managed package",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall("/api/v1/packages/"+args[0]+"/install", args[1])
		},
	}
}

func rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <slug> [version]",
		Short: "Roll a package back to the previous (or a named) release",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := ""
			if len(args) == 2 {
				version = args[1]
			}
			return runInstall("/api/v1/packages/"+args[0]+"/rollback", version)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <credential-id>",
		Short: "Show the connection status of a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status struct {
				State   string            `json:"state"`
				Message string            `json:"message"`
				Details map[string]string `json:"details"`
			}
			if err := apiGet("/api/v1/credentials/"+args[0]+"/status", &status); err != nil {
				return err
			}

			fmt.Printf("%s: %s\n", status.State, status.Message)
			for k, v := range status.Details {
				fmt.Printf("  %s: %s\n", k, v)
			}
			return nil
		},
	}
}

func reposCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repos <credential-id>",
		Short: "List the repositories a credential manages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var repos []string
			if err := apiGet("/api/v1/credentials/"+args[0]+"/repositories", &repos); err != nil {
				return err
			}
			for _, r := range repos {
				fmt.Println(r)
			}
			return nil
		},
	}
}

func packagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "packages",
		Short: "List the managed-package inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var pkgs []struct {
				Slug             string `json:"slug"`
				Type             string `json:"type"`
				Repository       string `json:"repository"`
				InstalledVersion string `json:"installed_version"`
			}
			if err := apiGet("/api/v1/packages", &pkgs); err != nil {
				return err
			}
			for _, p := range pkgs {
				fmt.Printf("%s\t%s\t%s\t%s\n", p.Slug, p.Type, p.Repository, p.InstalledVersion)
			}
			return nil
		},
	}
}

func runInstall(path, version string) error {
	body, _ := json.Marshal(map[string]string{"version": version})

	var result struct {
		Success     bool   `json:"success"`
		Tag         string `json:"tag"`
		FailedStage string `json:"failed_stage"`
		Reason      string `json:"reason"`
	}
	if err := apiPost(path, body, &result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("install failed at %s: %s", result.FailedStage, result.Reason)
	}
	fmt.Printf("installed %s\n", result.Tag)
	return nil
}

// Installs run inside the request; the client timeout has to cover them.
var httpClient = &http.Client{Timeout: 10 * time.Minute}

func apiGet(path string, out any) error {
	resp, err := httpClient.Get(apiAddr + path)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func apiPost(path string, body []byte, out any) error {
	resp, err := httpClient.Post(apiAddr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		// Install failures return the result body with a failing stage.
		if out != nil && json.Unmarshal(data, out) == nil {
			return nil
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
