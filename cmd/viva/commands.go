package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/veristep/viva/internal/config"
)

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage interview sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session from a descriptor file",
	Long: `Create a session from a descriptor file.

Example:
  viva session create --file ./descriptor.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		descriptor, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading descriptor: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sessions", json.RawMessage(descriptor))
		if err != nil {
			return err
		}

		var result struct {
			ID          string `json:"id"`
			State       string `json:"state"`
			ConfigError string `json:"config_error"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created session %s (%s)", result.ID, result.State)
		if result.ConfigError != "" {
			printWarning("descriptor defect, session runs degraded: %s", result.ConfigError)
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session's state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sessions/"+args[0])
		if err != nil {
			return err
		}

		var sess map[string]any
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

var sessionCallsCmd = &cobra.Command{
	Use:   "calls <id>",
	Short: "Show a session's tool call audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sessions/"+args[0]+"/tool-calls")
		if err != nil {
			return err
		}

		var result struct {
			ToolCalls []struct {
				Tool      string `json:"tool"`
				Arguments string `json:"arguments"`
				Outcome   string `json:"outcome"`
				CreatedAt string `json:"created_at"`
			} `json:"tool_calls"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.ToolCalls) == 0 {
			fmt.Println("no tool calls recorded")
			return nil
		}
		for _, c := range result.ToolCalls {
			fmt.Printf("%s  %s(%s)\n    %s\n", c.CreatedAt, colorize(colorBold, c.Tool), c.Arguments, firstLine(c.Outcome))
		}
		return nil
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end <id>",
	Short: "Tear a session down",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/sessions/"+args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Session %s ended", args[0])
		return nil
	},
}

var sessionUploadCmd = &cobra.Command{
	Use:   "upload <id> <file>...",
	Short: "Queue applicant documents for indexing into the session's partition",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		type fileRef struct {
			InternalName string `json:"internal_name"`
			FriendlyName string `json:"friendly_name"`
			Path         string `json:"path"`
		}
		var docs []fileRef
		for _, path := range args[1:] {
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", path, err)
			}
			base := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
			docs = append(docs, fileRef{
				InternalName: strings.ToLower(strings.ReplaceAll(base, " ", "_")),
				FriendlyName: base,
				Path:         abs,
			})
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sessions/"+id+"/documents", map[string]any{"documents": docs})
		if err != nil {
			return err
		}

		var result struct {
			JobID string `json:"job_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued %d document(s) as job %s", len(docs), result.JobID)
		return nil
	},
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func init() {
	sessionCreateCmd.Flags().String("file", "", "descriptor JSON file")
	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionCallsCmd)
	sessionCmd.AddCommand(sessionEndCmd)
	sessionCmd.AddCommand(sessionUploadCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
