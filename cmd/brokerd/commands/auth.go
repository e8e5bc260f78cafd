package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	brokerconfig "github.com/sessionbroker/broker/internal/config"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored backend credentials",
	Long: `Manage authentication credentials for the claude, codex, and gemini
backend adapters.

Subcommands:
  list     List all configured backends and their status
  login    Store an API key for a backend
  logout   Remove a stored API key`,
}

var authListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all backends and their auth status",
	RunE:    runAuthList,
}

var authLoginCmd = &cobra.Command{
	Use:   "login [adapter]",
	Short: "Store an API key for a backend adapter",
	Long: `Store an API key for a backend adapter.

Supported adapters:
  claude    Anthropic Claude (ANTHROPIC_API_KEY)
  codex     OpenAI Codex (OPENAI_API_KEY)
  gemini    Google Gemini (GOOGLE_API_KEY)`,
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout [adapter]",
	Short: "Remove a stored API key",
	RunE:  runAuthLogout,
}

func init() {
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
}

// storedAuth is the on-disk credential store, keyed by adapter name.
type storedAuth struct {
	Adapters map[string]storedCredential `json:"adapters"`
}

type storedCredential struct {
	APIKey string `json:"apiKey,omitempty"`
}

var adapterEnvVars = map[string]string{
	"claude": "ANTHROPIC_API_KEY",
	"codex":  "OPENAI_API_KEY",
	"gemini": "GOOGLE_API_KEY",
}

func runAuthList(cmd *cobra.Command, args []string) error {
	paths := brokerconfig.GetPaths()
	auth, _ := loadAuth(paths.AuthPath())

	fmt.Println("Backend authentication status:")
	fmt.Println()

	for _, adapterName := range []string{"claude", "codex", "gemini"} {
		envVar := adapterEnvVars[adapterName]
		status := "not configured"

		if os.Getenv(envVar) != "" {
			status = fmt.Sprintf("configured (via %s)", envVar)
		}
		if auth != nil && auth.Adapters != nil {
			if c, ok := auth.Adapters[adapterName]; ok && c.APIKey != "" {
				status = "configured (via auth file)"
			}
		}

		fmt.Printf("  %-8s %s\n", adapterName, status)
	}

	fmt.Println()
	fmt.Printf("Auth file: %s\n", paths.AuthPath())
	return nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("adapter name required: brokerd auth login <claude|codex|gemini>")
	}
	adapterName := args[0]
	paths := brokerconfig.GetPaths()

	fmt.Printf("Enter API key for %s: ", adapterName)
	reader := bufio.NewReader(os.Stdin)
	apiKey, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	auth, _ := loadAuth(paths.AuthPath())
	if auth == nil {
		auth = &storedAuth{Adapters: make(map[string]storedCredential)}
	}
	if auth.Adapters == nil {
		auth.Adapters = make(map[string]storedCredential)
	}
	auth.Adapters[adapterName] = storedCredential{APIKey: apiKey}

	if err := saveAuth(paths.AuthPath(), auth); err != nil {
		return fmt.Errorf("save auth: %w", err)
	}

	fmt.Printf("Stored credentials for %s\n", adapterName)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("adapter name required: brokerd auth logout <claude|codex|gemini>")
	}
	adapterName := args[0]
	paths := brokerconfig.GetPaths()

	auth, err := loadAuth(paths.AuthPath())
	if err != nil || auth.Adapters == nil {
		return fmt.Errorf("not logged in to %s", adapterName)
	}
	if _, ok := auth.Adapters[adapterName]; !ok {
		return fmt.Errorf("not logged in to %s", adapterName)
	}

	delete(auth.Adapters, adapterName)

	if err := saveAuth(paths.AuthPath(), auth); err != nil {
		return fmt.Errorf("save auth: %w", err)
	}

	fmt.Printf("Removed credentials for %s\n", adapterName)
	return nil
}

func loadAuth(path string) (*storedAuth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var auth storedAuth
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

func saveAuth(path string, auth *storedAuth) error {
	data, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
