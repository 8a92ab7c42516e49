package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/formrecovery/internal/model"
)

// FormInfo describes one configured form.
type FormInfo struct {
	ID     string               `json:"id"`
	Fields []model.FieldMapping `json:"fields"`
}

// FormsResult lists the configured forms in processing order.
type FormsResult struct {
	Source string     `json:"source"`
	Forms  []FormInfo `json:"forms"`
}

// String renders the text form of the list.
func (r FormsResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d form(s) configured (%s)", len(r.Forms), r.Source)
	for _, f := range r.Forms {
		fmt.Fprintf(&b, "\n  %s", f.ID)
		for _, m := range f.Fields {
			fmt.Fprintf(&b, "\n    %s -> %s", m.ExternalField, m.TargetProperty)
		}
	}
	return b.String()
}

// NewFormsCommand creates the forms command.
func NewFormsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forms",
		Short: "List configured forms and their field mappings",
		Long: `List the configured forms in processing order with each form's
submission field to contact property mappings. Does not contact HubSpot.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForms(rootOpts, cmd)
		},
	}

	return cmd
}

func runForms(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts, true)
	if err != nil {
		return err
	}

	result := FormsResult{Source: cfg.Source, Forms: make([]FormInfo, 0, len(cfg.Forms))}
	for _, f := range cfg.Forms {
		result.Forms = append(result.Forms, FormInfo{ID: f.ID, Fields: f.Fields.Pairs()})
	}

	return newFormatter(opts, cmd).Success(result)
}
