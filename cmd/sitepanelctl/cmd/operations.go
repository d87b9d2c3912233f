package cmd

import (
	"errors"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/bigkaa/sitepanel/internal/api/apitypes"
	"github.com/bigkaa/sitepanel/internal/console"
	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/domain/rbac"
)

var operationsCmd = &cobra.Command{
	Use:     "operations",
	Aliases: []string{"ops"},
	Short:   "Inspect provisioning operations",
	Long: `Provisioning operations record each create-user and delete-user saga.
An operation left in the inconsistent state has an identity account and a
profile that disagree; the server retries it in the background, and a
super_admin can retry it manually.`,
}

var (
	opsStatus string
	opsKind   string
	opsLimit  int
	opsOffset int
)

var operationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provisioning operations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := authenticated(cmd.Context(), true)
		if err != nil {
			return err
		}

		resp, err := e.client.ListOperations(cmd.Context(), e.console.Session(), console.OperationFilter{
			Status: opsStatus,
			Kind:   opsKind,
			Limit:  opsLimit,
			Offset: opsOffset,
		})
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			pterm.Info.Println("No operations found.")
			return nil
		}

		table := pterm.TableData{{"ID", "KIND", "STATUS", "STEP", "EMAIL", "ATTEMPTS", "LAST ERROR", "UPDATED"}}
		for i := range resp.Items {
			table = append(table, operationRow(&resp.Items[i]))
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(table).Render()

		pterm.Info.Printf("Showing %d of %d\n", len(resp.Items), resp.Total)
		if resp.HasMore {
			pterm.Info.Printf("More results: --offset %d\n", resp.Offset+len(resp.Items))
		}
		return nil
	},
}

var operationsRetryCmd = &cobra.Command{
	Use:   "retry <operation_id>",
	Short: "Retry an inconsistent operation (super_admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := authenticated(cmd.Context(), true)
		if err != nil {
			return err
		}

		if !rbac.IsSuperAdmin(e.console.Role()) {
			return errors.New("super_admin role required")
		}

		op, err := e.client.RetryOperation(cmd.Context(), e.console.Session(), args[0])
		if err != nil {
			return err
		}

		if op.Status == string(model.OperationCompleted) {
			pterm.Success.Printf("Operation %s completed\n", op.ID)
			return nil
		}
		pterm.Warning.Printf("Operation %s is still %s: %s\n", op.ID, op.Status, dash(deref(op.LastError)))
		return nil
	},
}

func init() {
	operationsListCmd.Flags().StringVar(&opsStatus, "status", "", "Filter by status (pending, completed, failed, compensated, inconsistent)")
	operationsListCmd.Flags().StringVar(&opsKind, "kind", "", "Filter by kind (create_user, delete_user)")
	operationsListCmd.Flags().IntVar(&opsLimit, "limit", 0, "Page size (server default when 0)")
	operationsListCmd.Flags().IntVar(&opsOffset, "offset", 0, "Page offset")

	operationsCmd.AddCommand(operationsListCmd)
	operationsCmd.AddCommand(operationsRetryCmd)
}

func operationRow(op *apitypes.ProvisioningOperation) []string {
	return []string{
		op.ID.String(),
		op.Kind,
		op.Status,
		op.Step,
		op.Email,
		strconv.Itoa(op.Attempts),
		dash(deref(op.LastError)),
		op.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
