// basketctl is a CLI for driving a basketd server by hand or from scripts.
// Each command performs a single operation, making it composable.
//
// Examples:
//
//	LIST=$(basketctl session -q)
//	CART=$(basketctl session -q)
//	basketctl seed --session $LIST --file shopping-list.yaml
//	basketctl check --session $LIST --index 2
//	basketctl transfer --from $LIST --to $CART --dry-run
//	basketctl transfer --from $LIST --to $CART --retailer colruyt
//	basketctl export --session $CART --retailer colruyt
package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Global flags (apply to all commands)
var (
	serverURL string
	quiet     bool
	noColor   bool
	verbose   bool
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "basketctl",
	Short: "Shopping list to cart tool for basketd",
	Long: `basketctl talks to a basketd server.

Typical flow:
  1. create two sessions, one for the shopping list and one for the cart
  2. seed the list session from a JSON or YAML file
  3. transfer the list into the cart (optionally --dry-run first)
  4. export the cart as retailer search links`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || os.Getenv("NO_COLOR") != "" {
			disableColors()
		}
		client.Timeout = timeout
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create a new session ID",
	Args:  cobra.NoArgs,
	RunE:  runSession,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Replace a session's cart with items from a file",
	Long: `Replace a session's cart with items from a JSON or YAML file.

The file holds a list of {name, quantity} items, either bare or under an
"items" key:

  - name: Tomates
    quantity: 500 g
  - name: Huile d'olive
    quantity: 1 bouteille`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Show a session's cart",
	Args:  cobra.NoArgs,
	RunE:  runCart,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Cross an item off a session's cart",
	Long: `Mark the item at --index (zero-based, as listed by "cart") as checked.
Checked items stay in the cart but are left out of exports. Use --uncheck to
restore an item.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Merge a list session into a cart session",
	Args:  cobra.NoArgs,
	RunE:  runTransfer,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print retailer search links for a session's cart",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

// Command flags
var (
	sessionID    string
	seedFile     string
	fromSession  string
	toSession    string
	retailerName string
	dryRun       bool
	itemIndex    int
	uncheck      bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BASKET_SERVER", "http://localhost:8080"), "basketd base URL")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode - only print the essential value")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose - show full request/response")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	seedCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID (required)")
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "JSON or YAML file of items (required, - for stdin)")
	seedCmd.MarkFlagRequired("session")
	seedCmd.MarkFlagRequired("file")

	cartCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID (required)")
	cartCmd.MarkFlagRequired("session")

	checkCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID (required)")
	checkCmd.Flags().IntVarP(&itemIndex, "index", "i", -1, "Item position in the cart (required)")
	checkCmd.Flags().BoolVar(&uncheck, "uncheck", false, "Clear the checked mark instead of setting it")
	checkCmd.MarkFlagRequired("session")
	checkCmd.MarkFlagRequired("index")

	transferCmd.Flags().StringVar(&fromSession, "from", "", "Source session ID (required)")
	transferCmd.Flags().StringVar(&toSession, "to", "", "Target session ID (required)")
	transferCmd.Flags().StringVarP(&retailerName, "retailer", "r", "", "Retailer whose inventory gates the transfer (default: server default)")
	transferCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Classify items without changing the target cart")
	transferCmd.MarkFlagRequired("from")
	transferCmd.MarkFlagRequired("to")

	exportCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID (required)")
	exportCmd.Flags().StringVarP(&retailerName, "retailer", "r", "", "Retailer to link to (default: server default)")
	exportCmd.MarkFlagRequired("session")

	rootCmd.AddCommand(sessionCmd, seedCmd, cartCmd, checkCmd, transferCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s✗ %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func runSession(cmd *cobra.Command, args []string) error {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := doRequest(cmd.Context(), "POST", "/sessions", "", nil, &resp); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	if quiet {
		fmt.Println(resp.SessionID)
		return nil
	}
	printSuccess("Session created")
	fmt.Printf("  ID: %s%s%s\n", colorCyan, resp.SessionID, colorReset)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	items, err := loadSeedItems(seedFile)
	if err != nil {
		return err
	}

	var resp cartView
	body := map[string]interface{}{"items": items}
	if err := doRequest(cmd.Context(), "PUT", "/cart", sessionID, body, &resp); err != nil {
		return fmt.Errorf("seeding cart: %w", err)
	}

	if quiet {
		fmt.Println(len(resp.Items))
		return nil
	}
	printSuccess("Seeded %d items into %s", len(resp.Items), sessionID)
	return nil
}

func runCart(cmd *cobra.Command, args []string) error {
	var resp cartView
	if err := doRequest(cmd.Context(), "GET", "/cart", sessionID, nil, &resp); err != nil {
		return fmt.Errorf("getting cart: %w", err)
	}

	if quiet {
		for _, item := range resp.Items {
			fmt.Printf("%s\t%s\t%t\n", item.Name, item.Quantity, item.Checked)
		}
		return nil
	}

	printSuccess("Cart %s: %d items", resp.SessionID, len(resp.Items))
	printItems(resp.Items)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/sessions/%s/cart/%d", url.PathEscape(sessionID), itemIndex)
	body := map[string]bool{"checked": !uncheck}

	var resp cartView
	if err := doRequest(cmd.Context(), "PATCH", path, "", body, &resp); err != nil {
		return fmt.Errorf("checking item: %w", err)
	}

	if quiet {
		return nil
	}
	item := resp.Items[itemIndex]
	if item.Checked {
		printSuccess("Checked %s", item.Name)
	} else {
		printSuccess("Unchecked %s", item.Name)
	}
	printItems(resp.Items)
	return nil
}

func runTransfer(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"source_session": fromSession,
		"target_session": toSession,
		"retailer":       retailerName,
		"dry_run":        dryRun,
	}

	var resp transferView
	if err := doRequest(cmd.Context(), "POST", "/transfers", "", body, &resp); err != nil {
		return fmt.Errorf("transferring basket: %w", err)
	}

	r := resp.Result
	if quiet {
		fmt.Printf("%d %d %d\n", r.Added, r.Duplicates, len(r.OutOfStock))
		return nil
	}

	verb := "Transferred"
	if r.DryRun {
		verb = "Preview"
	}
	printSuccess("%s via %s: %d added, %d already in cart, %d out of stock",
		verb, resp.Retailer, r.Added, r.Duplicates, len(r.OutOfStock))
	for _, rej := range r.Rejections {
		printWarning("%s (%s)", rej.Name, rej.Reason)
	}
	if r.Cancelled {
		printWarning("Cancelled with %d items unprocessed", r.Unprocessed)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	path := "/sessions/" + url.PathEscape(sessionID) + "/export"
	if retailerName != "" {
		path += "?retailer=" + url.QueryEscape(retailerName)
	}

	var resp exportView
	if err := doRequest(cmd.Context(), "GET", path, "", nil, &resp); err != nil {
		return fmt.Errorf("exporting cart: %w", err)
	}

	if quiet {
		for _, line := range resp.Lines {
			fmt.Println(line.SearchURL)
		}
		fmt.Println(resp.CheckoutURL)
		return nil
	}

	printSuccess("%d items for %s", len(resp.Lines), resp.Retailer)
	for _, line := range resp.Lines {
		fmt.Printf("  %s%-30s%s %s%s%s\n", colorBold, strings.TrimSpace(line.Name+" "+line.Quantity), colorReset, colorBlue, line.SearchURL, colorReset)
	}
	fmt.Printf("  Checkout: %s%s%s\n", colorBlue, resp.CheckoutURL, colorReset)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
