// Conveyor CLI — инструмент командной строки для управления
// workflows, выполнениями, согласованиями и расписаниями через HTTP API.
//
// Использование:
//
//	conveyor [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	workflow   Управление определениями workflow
//	execution  Управление выполнениями
//	approvals  Просмотр и решение согласований
//	schedule   Управление расписаниями
//	run        Запуск выполнения workflow
//	status     Статус выполнения
//	validate   Локальная проверка определения
//
// Адрес API берётся из --api-url или переменной CONVEYOR_API_URL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/conveyor/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	defaultURL := os.Getenv("CONVEYOR_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "conveyor",
		Short:         "Conveyor CLI — workflow orchestration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewWorkflowCmd(clientFn, outputFn),
		cli.NewExecutionCmd(clientFn, outputFn),
		cli.NewApprovalsCmd(clientFn, outputFn),
		cli.NewScheduleCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewStatusCmd(clientFn, outputFn),
		cli.NewValidateCmd(outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
