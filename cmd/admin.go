package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/admission"
	"github.com/JakeFAU/fetchgate/internal/app"
	"github.com/JakeFAU/fetchgate/internal/config"
	"github.com/JakeFAU/fetchgate/internal/id/uuid"
	"github.com/JakeFAU/fetchgate/internal/media"
)

// openStore is a variable so tests can substitute an in-memory store.
var openStore = app.OpenStore

type adminOp func(c *admission.Controller, ctx context.Context, caller, target string) (media.UserEntitlement, error)

func newAdminCmds() []*cobra.Command {
	return []*cobra.Command{
		newAdminCmd("grant", "Let a user bypass the size gate", (*admission.Controller).Grant),
		newAdminCmd("revoke", "Remove a user's gate bypass", (*admission.Controller).Revoke),
		newAdminCmd("reset-gate", "Clear a user's recorded gate steps", (*admission.Controller).ResetGate),
		newAdminCmd("show", "Print a user's entitlement", func(
			c *admission.Controller, ctx context.Context, _ string, target string,
		) (media.UserEntitlement, error) {
			return c.Entitlement(ctx, target)
		}),
	}
}

func newAdminCmd(use, short string, op adminOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := runAdmin(cmd.Context(), rt, op, args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s: admin_granted=%t gate=%d/%d\n",
				rec.UserID, rec.AdminGranted, rec.Progress(), media.GateSteps)
			return nil
		},
	}
}

func runAdmin(ctx context.Context, rt *runtime, op adminOp, target string) (media.UserEntitlement, error) {
	if rt.cfg.Admission.AdministratorID == "" {
		return media.UserEntitlement{}, fmt.Errorf("admission.administrator_id must be set")
	}
	store, closeStore, err := openStore(ctx, rt.cfg, rt.logger)
	if err != nil {
		return media.UserEntitlement{}, err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			rt.logger.Warn("close store failed", zap.Error(cerr))
		}
	}()

	controller := admission.New(store, uuid.New(), admissionConfig(rt.cfg), rt.logger.Named("admission"))
	return op(controller, ctx, rt.cfg.Admission.AdministratorID, target)
}

func admissionConfig(cfg config.Config) admission.Config {
	return admission.Config{
		MaxFreeBytes:      cfg.Admission.MaxFreeBytes,
		FreeTierInclusive: cfg.Admission.FreeTierInclusive,
		UnknownSize:       cfg.Admission.UnknownSize,
		AdministratorID:   cfg.Admission.AdministratorID,
	}
}
