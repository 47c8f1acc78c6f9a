package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/exafs/flowadmin/internal/config"
	"github.com/exafs/flowadmin/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage machine API keys",
		Long:    "Create, list, and revoke machine keys used for non-interactive access to the rule API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		org      string
		label    string
		readonly bool
		expires  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new machine key",
		Long:  "Generate a machine key bound to an organization. The raw key is shown once and cannot be retrieved again.",
		Example: `  flowadmin key create --org "Example NOC" --label "detection pipeline"
  flowadmin key create --org "Example NOC" --readonly --expires 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(org, label, readonly, expires)
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "Organization the key belongs to (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().BoolVar(&readonly, "readonly", false, "Restrict the key to read operations")
	cmd.Flags().StringVar(&expires, "expires", "", "Key lifetime as a duration (e.g. 720h); empty means no expiry")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runKeyCreate(orgName, label string, readonly bool, expires string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open portal store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	org, err := store.GetOrganizationByName(ctx, orgName)
	if errors.Is(err, config.ErrNotFound) {
		return fmt.Errorf("organization %q not found", orgName)
	}
	if err != nil {
		return fmt.Errorf("look up organization: %w", err)
	}

	var expiresAt *time.Time
	if expires != "" {
		d, err := time.ParseDuration(expires)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid expiry %q", expires)
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	// Generate 32 random bytes, hex encode, prefix with "fa_"
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Errorf("generate random key: %w", err)
	}
	rawKey := "fa_" + hex.EncodeToString(randomBytes)

	key := &model.MachineKey{
		KeyHash:   config.HashSecret(rawKey),
		KeyPrefix: rawKey[:11], // fa_ + 8 hex chars
		Label:     label,
		OrgID:     org.ID,
		ReadOnly:  readonly,
		IsActive:  true,
		ExpiresAt: expiresAt,
	}

	if err := store.CreateMachineKey(ctx, key); err != nil {
		return fmt.Errorf("create machine key: %w", err)
	}

	fmt.Println("Machine key created:")
	fmt.Println()
	fmt.Printf("  Key:  %s\n", rawKey)
	fmt.Printf("  Org:  %s\n", orgName)
	if label != "" {
		fmt.Printf("  Label: %s\n", label)
	}
	if readonly {
		fmt.Println("  Read-only: yes")
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all machine keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open portal store: %w", err)
	}
	defer store.Close()

	keys, err := store.ListMachineKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list machine keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No machine keys found. Create one with: flowadmin key create")
		return nil
	}

	for _, k := range keys {
		status := "active"
		if !k.IsActive {
			status = "revoked"
		} else if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()) {
			status = "expired"
		}
		if k.ReadOnly {
			status += ", read-only"
		}
		fmt.Printf("  %-14s %-24s %s\n", k.KeyPrefix, k.Label, status)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-prefix>",
		Short: "Revoke a machine key by its prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}
	return cmd
}

func runKeyRevoke(prefix string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open portal store: %w", err)
	}
	defer store.Close()

	if err := store.RevokeMachineKeyByPrefix(context.Background(), prefix); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return fmt.Errorf("no machine key with prefix %q", prefix)
		}
		return fmt.Errorf("revoke machine key: %w", err)
	}

	fmt.Printf("Revoked machine key %s\n", prefix)
	return nil
}
