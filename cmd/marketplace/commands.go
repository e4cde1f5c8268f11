package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/feral-file/ff-agent-market/internal/domain"
	"github.com/feral-file/ff-agent-market/internal/ledger"
	"github.com/feral-file/ff-agent-market/internal/marketplace"
	"github.com/feral-file/ff-agent-market/internal/query"
)

var (
	watchInterval time.Duration
	approveFirst  bool

	mintTo           string
	mintName         string
	mintDescription  string
	mintModel        string
	mintCapabilities []string
	mintLicense      string
)

var (
	listingsCmd = &cobra.Command{
		Use:   "listings",
		Short: "Show active listings with their agent metadata",
		Args:  cobra.NoArgs,
		RunE:  runListings,
	}
	buyCmd = &cobra.Command{
		Use:   "buy [listing-id]",
		Short: "Buy a listing at its listed price",
		Args:  cobra.ExactArgs(1),
		RunE:  runBuy,
	}
	listCmd = &cobra.Command{
		Use:   "list [token-id] [price-eth]",
		Short: "List an owned agent for sale",
		Args:  cobra.ExactArgs(2),
		RunE:  runList,
	}
	cancelCmd = &cobra.Command{
		Use:   "cancel [listing-id]",
		Short: "Cancel one of your listings",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
	approveCmd = &cobra.Command{
		Use:   "approve [token-id]",
		Short: "Approve the marketplace to transfer an agent",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprove,
	}
	mintCmd = &cobra.Command{
		Use:   "mint",
		Short: "Mint a new agent token",
		Args:  cobra.NoArgs,
		RunE:  runMint,
	}
	agentCmd = &cobra.Command{
		Use:   "agent [token-id]",
		Short: "Show the metadata of an agent",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgent,
	}
	setMarketplaceCmd = &cobra.Command{
		Use:   "set-marketplace [address]",
		Short: "Point the NFT contract at a marketplace (owner only)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSetMarketplace,
	}
)

func init() {
	listingsCmd.Flags().DurationVar(&watchInterval, "watch", 0, "Refresh the listings at this interval until interrupted")
	listCmd.Flags().BoolVar(&approveFirst, "approve", false, "Approve the marketplace first when it is not approved yet")

	mintCmd.Flags().StringVar(&mintTo, "to", "", "Recipient address (defaults to the signing account)")
	mintCmd.Flags().StringVar(&mintName, "name", "", "Agent name")
	mintCmd.Flags().StringVar(&mintDescription, "description", "", "Agent description")
	mintCmd.Flags().StringVar(&mintModel, "model", "", "Model the agent runs on")
	mintCmd.Flags().StringSliceVar(&mintCapabilities, "capability", nil, "Agent capability (repeatable)")
	mintCmd.Flags().StringVar(&mintLicense, "license", "", "Usage license")
	_ = mintCmd.MarkFlagRequired("name")
}

func runListings(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	feed := marketplace.NewListingFeed(app.query, app.cache)
	defer feed.Close()

	show := func() error {
		listings, err := feed.Refresh(ctx)
		if err != nil {
			return err
		}
		printCards(marketplace.Cards(ctx, listings, app.cache))
		return nil
	}

	if err := show(); err != nil {
		return err
	}
	if watchInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// A failed refresh keeps the previous view
			if err := show(); err != nil && !errors.Is(err, marketplace.ErrSuperseded) {
				fmt.Fprintln(os.Stderr, describeError(err))
			}
		}
	}
}

func runBuy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	listing, err := app.query.Listing(ctx, args[0])
	if err != nil {
		return err
	}
	if listing == nil {
		return fmt.Errorf("listing %s not found", args[0])
	}
	if !listing.Active {
		return fmt.Errorf("listing %s is no longer active", args[0])
	}

	result, err := app.service.Buy(ctx, *listing)
	if err != nil {
		return err
	}
	fmt.Printf("Bought listing %s (token %s) for %s ETH in %s\n",
		listing.ID, listing.TokenID, domain.FormatEther(listing.Price), result.TxHash)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	tokenID, err := domain.ParseBigInt(args[0])
	if err != nil {
		return fmt.Errorf("invalid token id: %w", err)
	}
	price, err := domain.ParseEther(args[1])
	if err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}

	listingID, err := app.service.List(cmd.Context(), tokenID, price, marketplace.ListOptions{Approve: approveFirst})
	if err != nil {
		return err
	}
	fmt.Printf("Listed token %s for %s ETH as listing %s\n", tokenID, domain.FormatEther(price), listingID)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	listingID, err := domain.ParseBigInt(args[0])
	if err != nil {
		return fmt.Errorf("invalid listing id: %w", err)
	}
	result, err := app.service.Cancel(cmd.Context(), listingID)
	if err != nil {
		return err
	}
	fmt.Printf("Canceled listing %s in %s\n", listingID, result.TxHash)
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	tokenID, err := domain.ParseBigInt(args[0])
	if err != nil {
		return fmt.Errorf("invalid token id: %w", err)
	}
	result, err := app.service.Approve(cmd.Context(), tokenID)
	if err != nil {
		return err
	}
	fmt.Printf("Approved the marketplace for token %s in %s\n", tokenID, result.TxHash)
	return nil
}

func runMint(cmd *cobra.Command, _ []string) error {
	to := mintTo
	if to == "" {
		to = app.service.Account()
	}
	tokenID, err := app.service.MintAgent(cmd.Context(), to, domain.AgentMetadata{
		Name:         mintName,
		Description:  mintDescription,
		Model:        mintModel,
		Capabilities: mintCapabilities,
		License:      mintLicense,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Minted token %s to %s\n", tokenID, to)
	return nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	tokenID, err := domain.ParseBigInt(args[0])
	if err != nil {
		return fmt.Errorf("invalid token id: %w", err)
	}
	agent, err := app.cache.Get(cmd.Context(), tokenID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Token\t%s\n", tokenID)
	fmt.Fprintf(w, "Name\t%s\n", agent.Name)
	fmt.Fprintf(w, "Description\t%s\n", agent.Description)
	fmt.Fprintf(w, "Model\t%s\n", agent.Model)
	fmt.Fprintf(w, "Capabilities\t%s\n", strings.Join(agent.Capabilities, ", "))
	fmt.Fprintf(w, "License\t%s\n", agent.License)
	return w.Flush()
}

func runSetMarketplace(cmd *cobra.Command, args []string) error {
	address := app.config.Ethereum.MarketplaceAddress
	if len(args) == 1 {
		address = args[0]
	}
	if err := app.service.SetMarketplace(cmd.Context(), address); err != nil {
		return err
	}
	fmt.Printf("Marketplace set to %s\n", address)
	return nil
}

func printCards(cards []marketplace.ListingCard) {
	if len(cards) == 0 {
		fmt.Println("No active listings")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LISTING\tTOKEN\tAGENT\tMODEL\tPRICE (ETH)\tSELLER\tLISTED")
	for _, card := range cards {
		name, model := "-", "-"
		if card.Agent != nil {
			name, model = card.Agent.Name, card.Agent.Model
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			card.ID, tokenString(card.TokenID), name, model, card.PriceEther, card.Seller,
			card.CreatedAt.UTC().Format(time.RFC3339))
	}
	_ = w.Flush()
}

func tokenString(id *big.Int) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

// describeError turns ledger rejections and query failures into a one-line message
func describeError(err error) string {
	if reason, ok := ledger.IsRejection(err); ok {
		return fmt.Sprintf("Rejected by the marketplace: %s", reason)
	}
	var gqlErr *query.GraphQLError
	switch {
	case errors.Is(err, query.ErrCanceled), errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.As(err, &gqlErr):
		return fmt.Sprintf("Query endpoint returned errors: %s", gqlErr)
	case errors.Is(err, query.ErrTransport):
		return fmt.Sprintf("Query endpoint unreachable: %s", err)
	case errors.Is(err, query.ErrMalformedResponse):
		return fmt.Sprintf("Query endpoint returned an unexpected response: %s", err)
	}
	return err.Error()
}
