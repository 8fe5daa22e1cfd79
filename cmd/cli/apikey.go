package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anstrom/ipsweep/internal/api/middleware"
)

// apiKeyCmd represents the apikey command group
var apiKeyCmd = &cobra.Command{
	Use:     "apikey",
	Aliases: []string{"apikeys"},
	Short:   "Create API keys for the daemon",
	Long: `The daemon authenticates API requests against the bcrypt hashes listed
in api.api_key_hashes. These commands create a key and the hash to put in
the config; the daemon never stores plain keys.

Clients send the key in the X-API-Key header. The jobs commands read it from
--api-key or IPSWEEP_API_KEY.`,
}

var apiKeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key and its hash",
	Example: `  ipsweep apikey generate
  export IPSWEEP_API_KEY=sk_...`,
	Args: cobra.NoArgs,
	RunE: runAPIKeyGenerate,
}

var apiKeyHashCmd = &cobra.Command{
	Use:   "hash [key]",
	Short: "Print the bcrypt hash of an existing key",
	Long: `Print the bcrypt hash of an existing key for api.api_key_hashes. Without
an argument the key is read from the first line of stdin, which keeps it out
of the shell history.`,
	Example: `  ipsweep apikey hash sk_abc123
  echo "$IPSWEEP_API_KEY" | ipsweep apikey hash`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAPIKeyHash,
}

func init() {
	rootCmd.AddCommand(apiKeyCmd)
	apiKeyCmd.AddCommand(apiKeyGenerateCmd, apiKeyHashCmd)
}

func runAPIKeyGenerate(cmd *cobra.Command, _ []string) error {
	key, err := middleware.GenerateKey()
	if err != nil {
		return err
	}
	hash, err := middleware.HashKey(key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API key:  %s\n", key)
	fmt.Fprintf(out, "Hash:     %s\n\n", hash)
	fmt.Fprintln(out, "Add the hash to api.api_key_hashes and keep the key secret; it is not shown again.")
	return nil
}

func runAPIKeyHash(cmd *cobra.Command, args []string) error {
	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		line, err := readLine(cmd.InOrStdin())
		if err != nil {
			return err
		}
		key = line
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	hash, err := middleware.HashKey(key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func readLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return "", nil
}
