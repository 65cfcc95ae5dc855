package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/conveyor/internal/domain"
	"github.com/shaiso/conveyor/internal/engine"
)

// NewValidateCmd создаёт команду локальной проверки определения workflow.
// Определение проверяется тем же валидатором, что и на сервере,
// без обращения к API.
func NewValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a workflow definition file locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read definition file: %w", err)
			}

			var def domain.WorkflowDefinition
			if err := json.Unmarshal(data, &def); err != nil {
				return fmt.Errorf("definition is not valid JSON: %w", err)
			}

			var problems []string
			if def.ID == "" {
				problems = append(problems, "workflow id is required")
			}
			if err := engine.Validate(&def); err != nil {
				var verrs engine.ValidationErrors
				if errors.As(err, &verrs) {
					for _, ve := range verrs {
						problems = append(problems, ve.Error())
					}
				} else {
					problems = append(problems, err.Error())
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					out.Error(p)
				}
				return fmt.Errorf("definition has %d validation errors", len(problems))
			}

			out.Success(fmt.Sprintf("Workflow %s is valid: %d steps", def.ID, len(def.Steps)))
			return nil
		},
	}
}
