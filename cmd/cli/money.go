package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/content-engine/internal/linkedin"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/monetization"
	"github.com/content-engine/internal/storage"
)

func formatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}

// ============ EARNINGS COMMANDS ============

func earningsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "earnings",
		Short: "Creator earnings ledger",
	}

	cmd.AddCommand(earningsRecordCmd())
	cmd.AddCommand(earningsSettleCmd())
	cmd.AddCommand(earningsBalanceCmd())
	cmd.AddCommand(earningsListCmd())
	return cmd
}

func earningsRecordCmd() *cobra.Command {
	var in monetization.EarningInput
	var source string
	var postID uint

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an earning manually",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.CreatorID == 0 {
				in.CreatorID = cfg.Publishing.CreatorID
			}
			in.Source = models.EarningSource(source)
			if postID != 0 {
				in.PostID = &postID
			}

			earning, created, err := application.Earnings.RecordEarning(cmd.Context(), in)
			if err != nil {
				return err
			}
			if !created {
				fmt.Printf("[warn] Earning with ref %s already recorded as #%d\n", in.ExternalRef, earning.ID)
				return nil
			}
			fmt.Printf("[ok] Earning #%d recorded: %s (%s, %s)\n",
				earning.ID, formatCents(earning.AmountCents, earning.Currency), earning.Source, earning.Status)
			return nil
		},
	}

	cmd.Flags().UintVar(&in.CreatorID, "creator", 0, "Creator ID (default from config)")
	cmd.Flags().Int64Var(&in.AmountCents, "amount", 0, "Amount in cents (required)")
	cmd.Flags().StringVar(&source, "source", string(models.EarningTip), "subscription, premium_unlock or tip")
	cmd.Flags().UintVar(&postID, "post", 0, "Post the earning is attributed to")
	cmd.Flags().StringVar(&in.Currency, "currency", "", "Currency (default from config)")
	cmd.Flags().StringVar(&in.ExternalRef, "ref", "", "External reference, recording twice is a no-op")
	cmd.Flags().StringVar(&in.Description, "description", "", "Description")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func earningsSettleCmd() *cobra.Command {
	var reject bool

	cmd := &cobra.Command{
		Use:   "settle [earning-id]",
		Short: "Complete (or reject) a pending earning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			to := models.LedgerCompleted
			if reject {
				to = models.LedgerRejected
			}
			earning, err := application.Earnings.SettleEarning(cmd.Context(), id, to)
			if err != nil {
				return err
			}
			fmt.Printf("[ok] Earning #%d is now %s\n", earning.ID, earning.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reject, "reject", false, "Reject instead of completing")
	return cmd
}

func earningsBalanceCmd() *cobra.Command {
	var creatorID uint

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a creator's balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if creatorID == 0 {
				creatorID = cfg.Publishing.CreatorID
			}
			b, err := application.Earnings.Balance(cmd.Context(), creatorID)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Balance (creator %d) ===\n", creatorID)
			fmt.Printf("Earned:    %s\n", formatCents(b.Earned, b.Currency))
			fmt.Printf("Pending:   %s\n", formatCents(b.Pending, b.Currency))
			fmt.Printf("Paid out:  %s\n", formatCents(b.PaidOut, b.Currency))
			fmt.Printf("Reserved:  %s\n", formatCents(b.Reserved, b.Currency))
			fmt.Printf("Available: %s\n", formatCents(b.Available, b.Currency))
			return nil
		},
	}

	cmd.Flags().UintVar(&creatorID, "creator", 0, "Creator ID (default from config)")
	return cmd
}

func ledgerFilter(cmd *cobra.Command, creatorID uint, status string, limit int) storage.LedgerFilter {
	filter := storage.LedgerFilter{Limit: limit}
	if cmd.Flags().Changed("creator") {
		filter.CreatorID = &creatorID
	}
	if status != "" {
		filter.Status = storage.Ptr(models.LedgerStatus(status))
	}
	return filter
}

func earningsListCmd() *cobra.Command {
	var creatorID uint
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List earnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			earnings, err := application.Earnings.ListEarnings(cmd.Context(), ledgerFilter(cmd, creatorID, status, limit))
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Earnings (%d) ===\n\n", len(earnings))
			for _, e := range earnings {
				fmt.Printf("[%d] %s  %s  %s  %s\n", e.ID, e.CreatedAt.Format("2006-01-02"),
					formatCents(e.AmountCents, e.Currency), e.Source, e.Status)
			}
			return nil
		},
	}

	cmd.Flags().UintVar(&creatorID, "creator", 0, "Filter by creator")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, completed, rejected)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

// ============ PAYOUT COMMANDS ============

func payoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Creator payouts",
	}

	cmd.AddCommand(payoutsRequestCmd())
	cmd.AddCommand(payoutsCompleteCmd())
	cmd.AddCommand(payoutsRejectCmd())
	cmd.AddCommand(payoutsListCmd())
	return cmd
}

func payoutsRequestCmd() *cobra.Command {
	var creatorID uint
	var amount int64
	var method string

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a payout from the available balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if creatorID == 0 {
				creatorID = cfg.Publishing.CreatorID
			}
			payout, err := application.Earnings.RequestPayout(cmd.Context(), creatorID, amount, method)
			if err != nil {
				return err
			}
			fmt.Printf("[ok] Payout #%d requested: %s via %s\n", payout.ID, formatCents(payout.AmountCents, payout.Currency), payout.Method)
			return nil
		},
	}

	cmd.Flags().UintVar(&creatorID, "creator", 0, "Creator ID (default from config)")
	cmd.Flags().Int64Var(&amount, "amount", 0, "Amount in cents (required)")
	cmd.Flags().StringVar(&method, "method", "bank_transfer", "Payout method")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func payoutsCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete [payout-id]",
		Short: "Mark a payout as paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			payout, err := application.Earnings.CompletePayout(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("[ok] Payout #%d completed\n", payout.ID)
			return nil
		},
	}
}

func payoutsRejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject [payout-id]",
		Short: "Reject a payout and release the amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			payout, err := application.Earnings.RejectPayout(cmd.Context(), id, reason)
			if err != nil {
				return err
			}
			fmt.Printf("[ok] Payout #%d rejected\n", payout.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the payout was rejected")
	return cmd
}

func payoutsListCmd() *cobra.Command {
	var creatorID uint
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			payouts, err := application.Earnings.ListPayouts(cmd.Context(), ledgerFilter(cmd, creatorID, status, limit))
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Payouts (%d) ===\n\n", len(payouts))
			for _, p := range payouts {
				fmt.Printf("[%d] creator %d  %s  %s  %s\n", p.ID, p.CreatorID, formatCents(p.AmountCents, p.Currency), p.Method, p.Status)
				if p.RejectionReason != "" {
					fmt.Printf("    Reason: %s\n", p.RejectionReason)
				}
			}
			return nil
		},
	}

	cmd.Flags().UintVar(&creatorID, "creator", 0, "Filter by creator")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, completed, rejected)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

// ============ PAYMENT PROVIDER COMMANDS ============

func paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Payment provider lookups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "store [id]",
		Short: "Show a store (default: the configured store)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := cfg.Payments.StoreID
			if len(args) == 1 {
				id = args[0]
			}
			if id == "" {
				return fmt.Errorf("no store id given and payments.store_id is not set")
			}
			store, err := application.Payments.GetStore(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Store %s ===\n", store.ID)
			fmt.Printf("Name:    %s (%s)\n", store.Name, store.Slug)
			fmt.Printf("Sales:   %d\n", store.TotalSales)
			fmt.Printf("Revenue: %s\n", formatCents(store.TotalRevenue, store.Currency))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "variant [id]",
		Short: "Show a product variant and the tier it unlocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			variant, err := application.Payments.GetVariant(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Variant %s ===\n", variant.ID)
			fmt.Printf("Name:         %s\n", variant.Name)
			fmt.Printf("Price:        %s\n", formatCents(variant.Price, cfg.Payments.Currency))
			fmt.Printf("Subscription: %v", variant.IsSub)
			if variant.IsSub {
				fmt.Printf(" (%s)", variant.Interval)
			}
			fmt.Println()
			fmt.Printf("Status:       %s\n", variant.Status)
			if tier, ok := cfg.Payments.VariantTiers[variant.ID]; ok {
				fmt.Printf("Tier:         %s\n", tier)
			} else {
				fmt.Printf("[warn] Variant is not mapped to a premium tier\n")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "customer [id]",
		Short: "Show a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			customer, err := application.Payments.GetCustomer(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Customer %s ===\n", customer.ID)
			fmt.Printf("Name:   %s <%s>\n", customer.Name, customer.Email)
			fmt.Printf("Status: %s\n", customer.Status)
			fmt.Printf("MRR:    %s\n", formatCents(customer.MRR, cfg.Payments.Currency))
			return nil
		},
	})

	return cmd
}

// ============ ACCOUNT COMMANDS ============

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Connected social accounts",
	}

	cmd.AddCommand(accountsConnectCmd())
	cmd.AddCommand(accountsListCmd())
	cmd.AddCommand(accountsDisableCmd())
	return cmd
}

func accountsConnectCmd() *cobra.Command {
	var addr string
	var creatorID uint
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect a LinkedIn account through OAuth",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if creatorID == 0 {
				creatorID = cfg.Publishing.CreatorID
			}

			state, err := linkedin.GenerateState()
			if err != nil {
				return err
			}

			fmt.Printf("Open this URL in your browser:\n\n%s\n\n", application.Tokens.AuthURL(state))
			fmt.Printf("Waiting for the callback on %s ...\n", addr)

			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			code, err := linkedin.WaitForCode(waitCtx, addr, state)
			if err != nil {
				return fmt.Errorf("OAuth failed: %w", err)
			}

			token, err := application.Tokens.Exchange(ctx, code)
			if err != nil {
				return err
			}
			profile, err := application.LinkedIn.GetProfile(ctx, token.AccessToken)
			if err != nil {
				return err
			}

			account := &models.SocialMediaAccount{
				CreatorID: creatorID,
				Platform:  models.PlatformLinkedIn,
				Handle:    profile.Name,
				AuthorURN: profile.AuthorURN(),
				Active:    true,
			}
			account.FromOAuth2Token(token)
			if err := application.Repo.CreateSocialAccount(ctx, account); err != nil {
				return fmt.Errorf("failed to save account: %w", err)
			}

			fmt.Printf("[ok] Connected %s as account #%d (token expires %s)\n",
				profile.Name, account.ID, account.ExpiresAt.Format(time.RFC1123))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "Address for the OAuth callback server")
	cmd.Flags().UintVar(&creatorID, "creator", 0, "Creator ID (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for the browser callback")
	return cmd
}

func accountsListCmd() *cobra.Command {
	var creatorID uint

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List connected accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if creatorID == 0 {
				creatorID = cfg.Publishing.CreatorID
			}
			accounts, err := application.Repo.ListSocialAccounts(cmd.Context(), creatorID, false)
			if err != nil {
				return err
			}

			now := time.Now()
			fmt.Printf("\n=== Accounts (%d) ===\n\n", len(accounts))
			for _, a := range accounts {
				state := "active"
				if !a.Active {
					state = "inactive"
				}
				fmt.Printf("[%d] %s %s (%s)\n", a.ID, a.Platform, a.Handle, state)
				switch {
				case a.ExpiresAt.Before(now) && a.RefreshToken == "":
					fmt.Printf("    [error] Token expired, run 'accounts connect' again\n")
				case a.NeedsRefresh(now):
					fmt.Printf("    [warn] Token expires %s, it will be refreshed on next use\n", a.ExpiresAt.Format(time.RFC1123))
				default:
					fmt.Printf("    [ok] Token valid until %s\n", a.ExpiresAt.Format(time.RFC1123))
				}
			}
			return nil
		},
	}

	cmd.Flags().UintVar(&creatorID, "creator", 0, "Creator ID (default from config)")
	return cmd
}

func accountsDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable [account-id]",
		Short: "Stop sharing to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			account, err := application.Repo.GetSocialAccountByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			account.Active = false
			if err := application.Repo.UpdateSocialAccount(cmd.Context(), account); err != nil {
				return err
			}
			fmt.Printf("[ok] Account #%d disabled\n", id)
			return nil
		},
	}
}
