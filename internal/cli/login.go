package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const credentialsFileName = "credentials.json"

type credentials struct {
	Server string `json:"server,omitempty"`
	Caller string `json:"caller,omitempty"`
	APIKey string `json:"api_key,omitempty"`
}

func newLoginCmd() *cobra.Command {
	var server, caller, apiKey string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store server credentials",
		Long:  "Store the server URL, caller address, and API key for later slotq commands.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if caller == "" && apiKey == "" {
				fmt.Print("Caller address (blank to use an API key): ")
				reader := bufio.NewReader(os.Stdin)
				line, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("read caller: %w", err)
				}
				caller = strings.TrimSpace(line)

				if caller == "" {
					fmt.Print("API key: ")
					line, err = reader.ReadString('\n')
					if err != nil {
						return fmt.Errorf("read api key: %w", err)
					}
					apiKey = strings.TrimSpace(line)
				}
			}

			if caller == "" && apiKey == "" {
				return fmt.Errorf("either a caller address or an API key is required")
			}

			credPath, err := credentialsPath()
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(credPath), 0700); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}

			creds := credentials{Server: server, Caller: caller, APIKey: apiKey}
			data, err := json.MarshalIndent(creds, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal credentials: %w", err)
			}

			if err := os.WriteFile(credPath, data, 0600); err != nil {
				return fmt.Errorf("write credentials: %w", err)
			}

			fmt.Printf("Credentials saved to %s\n", credPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "save-server", "", "Server URL to remember")
	cmd.Flags().StringVar(&caller, "save-caller", "", "Caller address to remember (prompted if omitted)")
	cmd.Flags().StringVar(&apiKey, "save-api-key", "", "API key to remember")
	return cmd
}

// credentialsPath returns the path to the credentials file (~/.slotq/credentials.json).
func credentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".slotq", credentialsFileName), nil
}

// LoadCredentials reads stored credentials, returning zero values if none exist.
func LoadCredentials() credentials {
	p, err := credentialsPath()
	if err != nil {
		return credentials{}
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return credentials{}
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return credentials{}
	}
	return creds
}
