package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stencil/internal/platform/keys"
	"stencil/internal/platform/models"
	"stencil/internal/platform/repositories"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
		Long:  "Create, list, inspect, and revoke the API keys used to authenticate against the REST API.",
	}

	cmd.AddCommand(newKeysCreateCmd())
	cmd.AddCommand(newKeysListCmd())
	cmd.AddCommand(newKeysInfoCmd())
	cmd.AddCommand(newKeysRevokeCmd())

	return cmd
}

// ---------- keys create ----------

func newKeysCreateCmd() *cobra.Command {
	var (
		name      string
		clientID  string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The plaintext key is shown once and cannot be retrieved again.",
		Example: `  stencil keys create --name "CI pipeline" --client-id ci
  stencil keys create -n "staging" -c web --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysCreate(name, clientID, expiresIn)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Name for the API key (required)")
	cmd.Flags().StringVarP(&clientID, "client-id", "c", "", "Client identifier (required)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Key lifetime (e.g. 720h); zero means the key never expires")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("client-id")

	return cmd
}

func runKeysCreate(name, clientID string, expiresIn time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	repo := repositories.NewAPIKeyRepository(db)
	svc := keys.NewService(repo, cfg.Auth)

	params := keys.IssueParams{ClientID: clientID, Name: name}
	if expiresIn > 0 {
		expiresAt := time.Now().UTC().Add(expiresIn)
		params.ExpiresAt = &expiresAt
	}

	issued, err := svc.Issue(context.Background(), params)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Name:      %s\n", issued.Record.Name)
	fmt.Printf("  Client ID: %s\n", issued.Record.ClientID)
	fmt.Printf("  Prefix:    %s\n", issued.Record.KeyPrefix)
	if issued.Record.ExpiresAt != nil {
		fmt.Printf("  Expires:   %s\n", issued.Record.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Printf("  Key:       %s\n", issued.Secret)
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- keys list ----------

func newKeysListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysList(limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum keys to show")

	return cmd
}

func runKeysList(limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	repo := repositories.NewAPIKeyRepository(db)
	records, total, err := repo.List(context.Background(), 0, limit)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No API keys found. Use 'stencil keys create' to create one.")
		return nil
	}

	now := time.Now().UTC()
	fmt.Printf("API keys (%d total)\n\n", total)
	fmt.Printf("%-14s %-24s %-16s %-8s %-18s %-18s\n", "PREFIX", "NAME", "CLIENT ID", "STATUS", "LAST USED", "CREATED")
	for _, k := range records {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-14s %-24s %-16s %-8s %-18s %-18s\n",
			k.KeyPrefix, truncate(k.Name, 24), truncate(k.ClientID, 16),
			keyStatus(&k, now), lastUsed, k.CreatedAt.Format("2006-01-02 15:04"))
	}

	return nil
}

// ---------- keys info ----------

func newKeysInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <prefix-or-id>",
		Short: "Show detailed information about an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysInfo(args[0])
		},
	}
}

func runKeysInfo(ref string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	repo := repositories.NewAPIKeyRepository(db)
	key, err := findKey(repo, ref)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	fmt.Println("API key details")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("ID:        %s\n", key.ID)
	fmt.Printf("Name:      %s\n", key.Name)
	fmt.Printf("Client ID: %s\n", key.ClientID)
	fmt.Printf("Prefix:    %s\n", key.KeyPrefix)
	fmt.Printf("Status:    %s\n", keyStatus(key, now))
	fmt.Printf("Created:   %s\n", key.CreatedAt.Format(time.RFC3339))
	if key.LastUsedAt != nil {
		fmt.Printf("Last used: %s\n", key.LastUsedAt.Format(time.RFC3339))
	} else {
		fmt.Printf("Last used: never\n")
	}
	if key.ExpiresAt != nil {
		fmt.Printf("Expires:   %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	if key.RevokedAt != nil {
		fmt.Printf("Revoked:   %s\n", key.RevokedAt.Format(time.RFC3339))
	}
	return nil
}

// ---------- keys revoke ----------

func newKeysRevokeCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "revoke <prefix-or-id>",
		Short: "Revoke an API key",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key. Revocation cannot be undone.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysRevoke(args[0], force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}

func runKeysRevoke(ref string, force bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	repo := repositories.NewAPIKeyRepository(db)
	key, err := findKey(repo, ref)
	if err != nil {
		return err
	}

	if key.Revoked {
		fmt.Printf("Key %q (%s) is already revoked.\n", key.Name, key.KeyPrefix)
		return nil
	}

	if !force {
		fmt.Printf("Key to revoke: %s (%s)\n", key.Name, key.KeyPrefix)
		if !confirm("Are you sure you want to revoke this key?") {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := repo.Revoke(context.Background(), key.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked key %q (%s)\n", key.Name, key.KeyPrefix)
	return nil
}

// ---------- helpers ----------

// findKey resolves a user-supplied reference: prefix fragment first, then
// exact record ID.
func findKey(repo *repositories.APIKeyRepository, ref string) (*models.APIKey, error) {
	ctx := context.Background()

	key, err := repo.GetByPrefix(ctx, ref)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	key, err = repo.GetByID(ctx, ref)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("no API key found with prefix or ID %q", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("look up api key: %w", err)
	}
	return key, nil
}

func keyStatus(k *models.APIKey, now time.Time) string {
	switch {
	case k.Revoked:
		return "revoked"
	case k.Expired(now):
		return "expired"
	default:
		return "active"
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
