package main

import (
	"fmt"
	"io"
	"time"

	"signing-relay/internal/core/domain"
	"signing-relay/internal/service"

	"github.com/spf13/cobra"
)

const auditCmdExample = `# Print a stored audit log
signer audit log/2026-01-02_15-04-05.json`

func newAuditCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:     "audit <file>",
		Short:   "Print a stored audit log",
		Example: auditCmdExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := service.ReadAuditFile(args[0])
			if err != nil {
				return err
			}
			printAudit(cmd.OutOrStdout(), events, domain.AuditKind(kind))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only show events of this kind (e.g. REJECT)")
	return cmd
}

func printAudit(w io.Writer, events []domain.AuditEvent, kind domain.AuditKind) {
	for _, ev := range events {
		if kind != "" && ev.Kind != kind {
			continue
		}
		line := fmt.Sprintf("%s  %-7s", ev.CreatedAt.Local().Format(time.DateTime), ev.Kind)
		if ev.Source != "" {
			line += "  " + ev.Source
		}
		fmt.Fprintf(w, "%s  %s\n", line, ev.Info)
	}
}
