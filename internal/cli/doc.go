// Package cli реализует инструмент командной строки Conveyor.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Conveyor API.
// Работает через HTTP и используется для управления workflows,
// выполнениями, согласованиями и расписаниями. Внутренние
// зависимости минимальны: domain и engine для локальной команды
// validate и repo ради сентинела ErrNotFound, в который клиент
// транслирует ответ NOT_FOUND (планировщик отличает по нему
// удалённый workflow от недоступного API).
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Conveyor API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (dataResponse, listResponse, errorResponse)
// и обработку ошибок. Все методы принимают context.Context:
// клиентом пользуется и планировщик, которому нужна отмена.
//
//	client := cli.NewClient("http://localhost:8080")
//	workflows, err := client.ListWorkflows(ctx)
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы и вертикальные списки (text/tabwriter) — по умолчанию
//   - JSON с отступами — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: conveyor workflow list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - workflow: list, register, show, delete
//   - execution: list, show, resume, fail
//   - approvals: list, show, approve, reject
//   - schedule: list, create, show, update, delete, enable, disable
//
// Плюс команды верхнего уровня: run (запуск выполнения, с --wait),
// status (статус выполнения) и validate (локальная проверка
// определения без сервера).
//
// Каждая группа создаётся через фабричную функцию (NewWorkflowCmd
// и т.д.), принимающую clientFn и outputFn — замыкания для ленивого
// создания Client и Output после парсинга PersistentFlags.
package cli
