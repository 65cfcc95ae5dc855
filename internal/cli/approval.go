package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/conveyor/internal/domain"
)

// NewApprovalsCmd создаёт группу команд для работы с согласованиями.
func NewApprovalsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Review and decide pending approvals",
	}

	cmd.AddCommand(
		newApprovalListCmd(clientFn, outputFn),
		newApprovalShowCmd(clientFn, outputFn),
		newApprovalDecisionCmd(clientFn, outputFn, "approve", "Approve a pending request", string(domain.DecisionApprove)),
		newApprovalDecisionCmd(clientFn, outputFn, "reject", "Reject a pending request", string(domain.DecisionReject)),
	)

	return cmd
}

func newApprovalListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var approver string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			approvals, err := client.ListApprovals(cmd.Context(), approver)
			if err != nil {
				return err
			}

			headers := []string{"ID", "EXECUTION", "STEP", "STATUS", "APPROVERS", "EXPIRES"}
			rows := make([][]string, len(approvals))
			for i, a := range approvals {
				rows[i] = []string{
					a.ID, a.ExecutionID, a.StepID, a.Status,
					strings.Join(a.Approvers, ","), a.ExpiresAt,
				}
			}

			out.Print(headers, rows, approvals)
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "Only approvals addressed to this approver")

	return cmd
}

func newApprovalShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show approval details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			approval, err := client.GetApproval(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.PrintDetails(approvalDetails(approval), approval)
			return nil
		},
	}
}

func newApprovalDecisionCmd(clientFn func() *Client, outputFn func() *Output, use, short, decision string) *cobra.Command {
	var approver string
	var comment string

	cmd := &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.SubmitApproval(cmd.Context(), args[0], ApprovalDecisionRequest{
				ApproverID: approver,
				Decision:   decision,
				Comment:    comment,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Decision recorded, approval is now %s", result.Status))
			out.PrintDetails([][2]string{
				{"Approval", result.ApprovalID},
				{"Status", result.Status},
			}, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "as", "", "Approver ID submitting the decision (required)")
	cmd.Flags().StringVar(&comment, "comment", "", "Comment attached to the decision")
	cmd.MarkFlagRequired("as")

	return cmd
}

// approvalDetails собирает пары поле-значение для вертикального вывода.
func approvalDetails(a *ApprovalResponse) [][2]string {
	pairs := [][2]string{
		{"ID", a.ID},
		{"Execution", a.ExecutionID},
		{"Step", a.StepID},
		{"Status", a.Status},
		{"Policy", a.ApprovalType},
		{"Approvers", strings.Join(a.Approvers, ", ")},
		{"Title", a.Title},
		{"Message", a.Message},
		{"Expires", a.ExpiresAt},
		{"Decided", a.DecidedAt},
	}

	if a.Escalated {
		pairs = append(pairs, [2]string{"Escalated", "yes"})
	}
	for _, r := range a.Responses {
		value := r.Decision
		if r.Comment != "" {
			value += ": " + r.Comment
		}
		pairs = append(pairs, [2]string{"Response " + r.ApproverID, value})
	}

	return pairs
}
