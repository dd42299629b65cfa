package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"creator-booking/pkg/gen"
	"creator-booking/services/allocation"
	"creator-booking/services/catalog"
)

func seedCmd() *cobra.Command {
	var (
		creatorID string
		mode      string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a demo creator with content and booking targets",
		Long: `Insert a demo creator with a public profile, one priced content item,
two weighted booking targets and a routing config.

Examples:
  booking-ops seed
  booking-ops seed --creator creator_demo --mode sticky`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := allocation.ParseMode(mode); !ok {
				return fmt.Errorf("unknown routing mode %q", mode)
			}
			return run(func(cat *catalog.Service, alloc *allocation.Service) error {
				return seed(cmd.Context(), cat, alloc, creatorID, mode)
			}, gen.Module, fx.Provide(catalog.NewService, allocation.NewService))
		},
	}

	cmd.Flags().StringVar(&creatorID, "creator", "creator_demo", "creator id to seed")
	cmd.Flags().StringVar(&mode, "mode", string(allocation.ModeWeighted), "routing mode")

	return cmd
}

func seed(ctx context.Context, cat *catalog.Service, alloc *allocation.Service, creatorID, mode string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	profileURL := "https://cal.example.com/" + creatorID
	if err := cat.SaveProfile(ctx, &catalog.CreatorProfile{
		UserID:           creatorID,
		DisplayName:      "Demo Creator",
		BookingURL:       &profileURL,
		BookingURLPublic: true,
	}); err != nil {
		return fmt.Errorf("seed profile: %w", err)
	}

	if err := cat.SaveContent(ctx, &catalog.ContentItem{
		ID:         creatorID + "_call",
		CreatorID:  creatorID,
		Title:      "Strategy call",
		PriceCents: 15000,
		Currency:   "usd",
	}); err != nil {
		return fmt.Errorf("seed content: %w", err)
	}

	existing, err := alloc.ListTargets(ctx, creatorID)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		for i, weight := range []int{1, 2} {
			w := weight
			if _, err := alloc.CreateTarget(ctx, creatorID, allocation.TargetInput{
				Name:           fmt.Sprintf("Closer %d", i+1),
				DestinationURL: fmt.Sprintf("https://cal.example.com/%s/closer-%d", creatorID, i+1),
				Weight:         &w,
			}); err != nil {
				return err
			}
		}
	}

	if _, err := alloc.PutRouting(ctx, creatorID, allocation.RoutingInput{Mode: mode}); err != nil {
		return err
	}

	fmt.Printf("seeded creator %s (%s routing)\n", creatorID, mode)
	return nil
}
